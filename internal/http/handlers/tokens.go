package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/middleware"
	"github.com/visitsafe/server/internal/tokens"
)

// TokenHandler handles device token registration.
type TokenHandler struct {
	directory *tokens.Directory
	log       *zap.Logger
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(directory *tokens.Directory, log *zap.Logger) *TokenHandler {
	return &TokenHandler{directory: directory, log: log}
}

// registerTokenRequest is the body for POST /api/tokens/register
type registerTokenRequest struct {
	Token string `json:"token"`
}

// HandleRegister registers a push token for the authenticated principal.
// Registering the same token twice is a no-op.
func (h *TokenHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req registerTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	principal := tokens.Principal{Role: claims.Role, ID: claims.PrincipalID}
	if err := h.directory.Register(r.Context(), claims.ResidencyID, principal, req.Token); err != nil {
		h.log.Error("failed to register token",
			zap.String("residency_id", claims.ResidencyID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to register token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "registered"})
}
