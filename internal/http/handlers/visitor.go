package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/middleware"
	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/visitor"
)

// VisitorHandler handles the visitor-request lifecycle endpoints.
type VisitorHandler struct {
	service *visitor.Service
	log     *zap.Logger
}

// NewVisitorHandler creates a new visitor handler
func NewVisitorHandler(service *visitor.Service, log *zap.Logger) *VisitorHandler {
	return &VisitorHandler{service: service, log: log}
}

// submitRequest is the request body for POST /api/visitor-requests
type submitRequest struct {
	ResidencyID   string `json:"residencyId"`
	VisitorName   string `json:"visitorName"`
	VisitorPhone  string `json:"visitorPhone"`
	Purpose       string `json:"purpose"`
	VehicleNumber string `json:"vehicleNumber"`
	FlatID        string `json:"flatId"`
}

// HandleSubmit handles POST /api/visitor-requests (kiosk submission).
func (h *VisitorHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.ResidencyID = strings.TrimSpace(req.ResidencyID)
	req.VisitorName = strings.TrimSpace(req.VisitorName)
	if req.ResidencyID == "" || req.VisitorName == "" || req.FlatID == "" {
		respondWithError(w, http.StatusBadRequest, "residencyId, visitorName and flatId are required")
		return
	}

	created, err := h.service.Create(r.Context(), visitor.CreateInput{
		ResidencyID:   req.ResidencyID,
		VisitorName:   req.VisitorName,
		VisitorPhone:  req.VisitorPhone,
		Purpose:       req.Purpose,
		VehicleNumber: req.VehicleNumber,
		FlatID:        req.FlatID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toRequestResponse(created))
}

// actionRequest is the body/query shape of the notification-button path.
type actionRequest struct {
	Action      string `json:"action"`
	ResidencyID string `json:"residencyId"`
	RequestID   string `json:"requestId"`
	Token       string `json:"token"`
}

// actionParams reads the action parameters from the query string (GET, and
// the URLs embedded in push payloads) or the JSON body (POST relay).
func actionParams(r *http.Request) actionRequest {
	q := r.URL.Query()
	req := actionRequest{
		Action:      q.Get("action"),
		ResidencyID: q.Get("residencyId"),
		RequestID:   q.Get("requestId"),
		Token:       q.Get("token"),
	}
	if r.Method == http.MethodPost && r.Body != nil {
		var body actionRequest
		if err := decodeJSON(r, &body); err == nil {
			if body.Action != "" {
				req.Action = body.Action
			}
			if body.ResidencyID != "" {
				req.ResidencyID = body.ResidencyID
			}
			if body.RequestID != "" {
				req.RequestID = body.RequestID
			}
			if body.Token != "" {
				req.Token = body.Token
			}
		}
	}
	return req
}

// HandleAction handles GET|POST /action and POST /api/visitor-action.
// GET is a browser navigation: whatever happens, the user lands on "/" and
// never sees raw JSON. POST is the relay path and gets the JSON result.
func (h *VisitorHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	req := actionParams(r)

	result, err := h.service.HandleAction(r.Context(), req.ResidencyID, req.RequestID, req.Action,
		visitor.ActionCredentials{ApprovalToken: req.Token})

	if r.Method == http.MethodGet {
		if err != nil {
			h.log.Warn("action link failed",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":          result.Success,
		"alreadyProcessed": result.AlreadyProcessed,
		"notFound":         result.NotFound,
		"status":           string(result.Status),
	})
}

// HandleDetails handles GET /api/visitor-details?visitorId=&token=.
func (h *VisitorHandler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	visitorID := r.URL.Query().Get("visitorId")
	token := r.URL.Query().Get("token")
	if visitorID == "" || token == "" {
		respondWithError(w, http.StatusBadRequest, "visitorId and token are required")
		return
	}

	details, err := h.service.Details(r.Context(), visitorID, token)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"request": toRequestResponse(details.Request),
		"block":   details.BlockName,
		"flat":    details.FlatNumber,
	})
}

// decisionRequest is the body for POST /api/visitor-decision
type decisionRequest struct {
	VisitorID string `json:"visitorId"`
	Token     string `json:"token"`
	Action    string `json:"action"`
}

// HandleDecision handles POST /api/visitor-decision: the full-page approval
// flow, requiring the token and the authenticated resident together.
func (h *VisitorHandler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || claims.Role != model.RoleResident {
		respondWithError(w, http.StatusForbidden, "resident session required")
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.VisitorID == "" || req.Token == "" || req.Action == "" {
		respondWithError(w, http.StatusBadRequest, "visitorId, token and action are required")
		return
	}

	result, err := h.service.Decide(r.Context(), req.VisitorID, req.Token, req.Action, claims.PrincipalID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":          result.Success,
		"alreadyProcessed": result.AlreadyProcessed,
		"status":           string(result.Status),
	})
}

// HandleStatus handles GET /api/visitor-status?requestId= (visitor page poll).
func (h *VisitorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		respondWithError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	insp, err := h.service.Inspect(r.Context(), requestID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"requestId": insp.Request.ID,
		"status":    string(insp.Request.Status),
	})
}

// HandleInspect handles GET /api/test?requestId=: the full request plus
// resolved flat/block and the idempotency/audit booleans.
func (h *VisitorHandler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		respondWithError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	insp, err := h.service.Inspect(r.Context(), requestID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"request":             toRequestResponse(insp.Request),
		"block":               insp.BlockName,
		"flat":                insp.Flat.Number,
		"residencyId":         insp.ResidencyID,
		"hasNotificationSent": insp.HasNotificationSent,
		"hasApprovalData":     insp.HasApprovalData,
	})
}

// updateStatusRequest is the body for POST /api/update-request-status
type updateStatusRequest struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// HandleUpdateStatus handles POST /api/update-request-status (guard/admin).
func (h *VisitorHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.RequestID == "" || req.Status == "" {
		respondWithError(w, http.StatusBadRequest, "requestId and status are required")
		return
	}

	err := h.service.UpdateStatus(r.Context(), claims.ResidencyID, req.RequestID, req.Status, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) {
			respondServiceError(w, err)
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "updated"})
}

// HandleList handles GET /api/visitor-requests (authenticated listing).
// Residents see only their flat's requests; guards and admins see all.
func (h *VisitorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var (
		requests []model.VisitorRequest
		err      error
	)
	if claims.Role == model.RoleResident {
		requests, err = h.service.ListForResident(r.Context(), claims.ResidencyID, claims.PrincipalID)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		requests, err = h.service.List(r.Context(), claims.ResidencyID, limit)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toRequestResponse(req))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"requests": out})
}
