package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/auth"
	"github.com/visitsafe/server/internal/middleware"
	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/notify"
	"github.com/visitsafe/server/internal/repo"
	"github.com/visitsafe/server/internal/tokens"
	"github.com/visitsafe/server/internal/visitor"
)

// AdminHandler handles the residency-admin management endpoints.
type AdminHandler struct {
	residencies repo.ResidencyRepo
	blocks      repo.BlockRepo
	flats       repo.FlatRepo
	residents   repo.ResidentRepo
	guards      repo.GuardRepo
	notifier    visitor.Notifier
	log         *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	residencies repo.ResidencyRepo,
	blocks repo.BlockRepo,
	flats repo.FlatRepo,
	residents repo.ResidentRepo,
	guards repo.GuardRepo,
	notifier visitor.Notifier,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		residencies: residencies,
		blocks:      blocks,
		flats:       flats,
		residents:   residents,
		guards:      guards,
		notifier:    notifier,
		log:         log,
	}
}

func adminResidency(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing session")
		return "", false
	}
	return claims.ResidencyID, true
}

// --- blocks ---

type createBlockRequest struct {
	Name string `json:"name"`
}

// HandleCreateBlock handles POST /api/blocks
func (h *AdminHandler) HandleCreateBlock(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req createBlockRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}
	block := model.Block{ID: uuid.NewString(), ResidencyID: residencyID, Name: strings.TrimSpace(req.Name)}
	if err := h.blocks.Create(r.Context(), block); err != nil {
		h.log.Error("failed to create block", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to create block")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": block.ID, "name": block.Name})
}

// HandleListBlocks handles GET /api/blocks
func (h *AdminHandler) HandleListBlocks(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	blocks, err := h.blocks.ListByResidency(r.Context(), residencyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]map[string]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, map[string]string{"id": b.ID, "name": b.Name})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"blocks": out})
}

// HandleDeleteBlock handles DELETE /api/blocks/{id}
func (h *AdminHandler) HandleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	if err := h.blocks.Delete(r.Context(), residencyID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// --- flats ---

type createFlatRequest struct {
	BlockID string `json:"blockId"`
	Number  string `json:"number"`
	Floor   string `json:"floor"`
}

// HandleCreateFlat handles POST /api/flats
func (h *AdminHandler) HandleCreateFlat(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req createFlatRequest
	if err := decodeJSON(r, &req); err != nil || req.Number == "" {
		respondWithError(w, http.StatusBadRequest, "number is required")
		return
	}
	flat := model.Flat{
		ID:          uuid.NewString(),
		ResidencyID: residencyID,
		BlockID:     req.BlockID,
		Number:      req.Number,
		Floor:       req.Floor,
	}
	if err := h.flats.Create(r.Context(), flat); err != nil {
		h.log.Error("failed to create flat", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to create flat")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": flat.ID, "number": flat.Number})
}

// HandleListFlats handles GET /api/flats
func (h *AdminHandler) HandleListFlats(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	flats, err := h.flats.ListByResidency(r.Context(), residencyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]map[string]string, 0, len(flats))
	for _, f := range flats {
		out = append(out, map[string]string{
			"id": f.ID, "blockId": f.BlockID, "number": f.Number, "floor": f.Floor,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"flats": out})
}

// HandleDeleteFlat handles DELETE /api/flats/{id}
func (h *AdminHandler) HandleDeleteFlat(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	if err := h.flats.Delete(r.Context(), residencyID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// --- residents ---

type createResidentRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
	FlatID      string `json:"flatId"`
	BlockLabel  string `json:"blockLabel"`
	FlatNumber  string `json:"flatNumber"`
}

// HandleCreateResident handles POST /api/residents. Either flatId or the
// legacy blockLabel + flatNumber pair associates the resident with a flat.
func (h *AdminHandler) HandleCreateResident(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req createResidentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.FlatID == "" && (req.BlockLabel == "" || req.FlatNumber == "") {
		respondWithError(w, http.StatusBadRequest, "flatId or blockLabel+flatNumber is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid password")
		return
	}
	resident := model.Resident{
		ID:          uuid.NewString(),
		ResidencyID: residencyID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Active:      true,
		FlatID:      req.FlatID,
		BlockLabel:  req.BlockLabel,
		FlatNumber:  req.FlatNumber,
	}
	if err := h.residents.Create(r.Context(), resident, hash); err != nil {
		h.log.Error("failed to create resident", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to create resident")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": resident.ID, "username": resident.Username})
}

// HandleListResidents handles GET /api/residents
func (h *AdminHandler) HandleListResidents(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	residents, err := h.residents.ListByResidency(r.Context(), residencyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(residents))
	for _, res := range residents {
		out = append(out, map[string]any{
			"id":          res.ID,
			"username":    res.Username,
			"displayName": res.DisplayName,
			"flatId":      res.FlatID,
			"blockLabel":  res.BlockLabel,
			"flatNumber":  res.FlatNumber,
			"active":      res.Active,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"residents": out})
}

// HandleDeleteResident handles DELETE /api/residents/{id}
func (h *AdminHandler) HandleDeleteResident(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	if err := h.residents.Delete(r.Context(), residencyID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// --- guards ---

type createGuardRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
}

// HandleCreateGuard handles POST /api/guards
func (h *AdminHandler) HandleCreateGuard(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req createGuardRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid password")
		return
	}
	guard := model.Guard{
		ID:          uuid.NewString(),
		ResidencyID: residencyID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Active:      true,
	}
	if err := h.guards.Create(r.Context(), guard, hash); err != nil {
		h.log.Error("failed to create guard", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to create guard")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": guard.ID, "username": guard.Username})
}

// HandleListGuards handles GET /api/guards
func (h *AdminHandler) HandleListGuards(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	guards, err := h.guards.ListByResidency(r.Context(), residencyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(guards))
	for _, g := range guards {
		out = append(out, map[string]any{
			"id": g.ID, "username": g.Username, "displayName": g.DisplayName, "active": g.Active,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"guards": out})
}

// HandleDeleteGuard handles DELETE /api/guards/{id}
func (h *AdminHandler) HandleDeleteGuard(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	if err := h.guards.Delete(r.Context(), residencyID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// --- residency-level operations ---

type broadcastRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// HandleBroadcast handles POST /api/broadcast: a push to every resident.
func (h *AdminHandler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil || req.Title == "" || req.Body == "" {
		respondWithError(w, http.StatusBadRequest, "title and body are required")
		return
	}

	result, err := h.notifier.Dispatch(r.Context(), notify.Input{
		ResidencyID: residencyID,
		Selector:    tokens.Broadcast(),
		Title:       req.Title,
		Body:        req.Body,
	})
	if err != nil {
		h.log.Error("broadcast failed", zap.String("residency_id", residencyID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{
		"successCount": result.SuccessCount,
		"failureCount": result.FailureCount,
	})
}

type toggleServiceRequest struct {
	ServiceStatus string `json:"serviceStatus"`
}

// HandleToggleService handles POST /api/toggle-service
func (h *AdminHandler) HandleToggleService(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	var req toggleServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	status := model.ServiceStatus(strings.ToUpper(req.ServiceStatus))
	if status != model.ServiceOn && status != model.ServiceOff {
		respondWithError(w, http.StatusBadRequest, "serviceStatus must be ON or OFF")
		return
	}
	if err := h.residencies.SetServiceStatus(r.Context(), residencyID, status); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"serviceStatus": string(status)})
}

// HandleDeleteResidency handles DELETE /api/residency: removes the residency
// and, through FK cascades, everything under it.
func (h *AdminHandler) HandleDeleteResidency(w http.ResponseWriter, r *http.Request) {
	residencyID, ok := adminResidency(w, r)
	if !ok {
		return
	}
	if err := h.residencies.Delete(r.Context(), residencyID); err != nil {
		respondServiceError(w, err)
		return
	}
	h.log.Info("residency deleted", zap.String("residency_id", residencyID))
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
