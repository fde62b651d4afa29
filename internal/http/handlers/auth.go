package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/auth"
	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/repo"
)

// AuthHandler handles login and residency registration endpoints.
type AuthHandler struct {
	authService *auth.AuthService
	residencies repo.ResidencyRepo
	log         *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, residencies repo.ResidencyRepo, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, residencies: residencies, log: log}
}

// loginRequest is the request body for POST /api/login
type loginRequest struct {
	ResidencyID string `json:"residencyId"`
	Role        string `json:"role"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// loginResponse is the JSON response for a successful login
type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	Role        string `json:"role"`
	PrincipalID string `json:"principalId"`
	ResidencyID string `json:"residencyId"`
	DisplayName string `json:"displayName"`
}

// HandleLogin handles POST /api/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	role := model.Role(strings.TrimSpace(req.Role))
	session, err := h.authService.Login(r.Context(), req.ResidencyID, role, req.Username, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, loginResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		Role:        string(session.Role),
		PrincipalID: session.PrincipalID,
		ResidencyID: session.ResidencyID,
		DisplayName: session.DisplayName,
	})
}

// registerResidencyRequest is the body for POST /api/register-residency
type registerResidencyRequest struct {
	Name          string `json:"name"`
	AdminUsername string `json:"adminUsername"`
	AdminPassword string `json:"adminPassword"`
}

// HandleRegisterResidency handles POST /api/register-residency
func (h *AuthHandler) HandleRegisterResidency(w http.ResponseWriter, r *http.Request) {
	var req registerResidencyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.AdminUsername == "" || req.AdminPassword == "" {
		respondWithError(w, http.StatusBadRequest, "name, adminUsername and adminPassword are required")
		return
	}

	hash, err := auth.HashPassword(req.AdminPassword)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid password")
		return
	}

	residency := model.Residency{
		ID:            uuid.NewString(),
		Name:          req.Name,
		ServiceStatus: model.ServiceOn,
		AdminUsername: req.AdminUsername,
	}
	if err := h.residencies.Create(r.Context(), residency, hash); err != nil {
		h.log.Error("failed to register residency", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to register residency")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{
		"residencyId":   residency.ID,
		"name":          residency.Name,
		"serviceStatus": string(residency.ServiceStatus),
	})
}

// HandleResidencyStatus handles GET /api/residency-status?residencyId=
func (h *AuthHandler) HandleResidencyStatus(w http.ResponseWriter, r *http.Request) {
	residencyID := r.URL.Query().Get("residencyId")
	if residencyID == "" {
		respondWithError(w, http.StatusBadRequest, "residencyId is required")
		return
	}

	residency, err := h.residencies.GetByID(r.Context(), residencyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"residencyId":   residency.ID,
		"name":          residency.Name,
		"serviceStatus": string(residency.ServiceStatus),
	})
}
