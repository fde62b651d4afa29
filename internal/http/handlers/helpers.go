package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/visitsafe/server/internal/auth"
	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/visitor"
)

// respondWithJSON writes a JSON body with the given status code.
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// respondServiceError maps the service-layer sentinel errors onto HTTP codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, model.ErrConflict):
		respondWithError(w, http.StatusConflict, "request already processed")
	case errors.Is(err, visitor.ErrServiceDisabled):
		respondWithError(w, http.StatusServiceUnavailable, "service is currently disabled")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes the request body, rejecting unknown junk gracefully.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// requestResponse is the wire shape of a visitor request.
type requestResponse struct {
	ID               string     `json:"id"`
	ResidencyID      string     `json:"residencyId"`
	VisitorName      string     `json:"visitorName"`
	VisitorPhone     string     `json:"visitorPhone,omitempty"`
	Purpose          string     `json:"purpose,omitempty"`
	VehicleNumber    string     `json:"vehicleNumber,omitempty"`
	FlatID           string     `json:"flatId"`
	Status           string     `json:"status"`
	NotificationSent bool       `json:"notificationSent"`
	ActionBy         string     `json:"actionBy,omitempty"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	RejectedBy       string     `json:"rejectedBy,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	EnteredAt        *time.Time `json:"enteredAt,omitempty"`
	ExitedAt         *time.Time `json:"exitedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toRequestResponse(req model.VisitorRequest) requestResponse {
	return requestResponse{
		ID:               req.ID,
		ResidencyID:      req.ResidencyID,
		VisitorName:      req.VisitorName,
		VisitorPhone:     req.VisitorPhone,
		Purpose:          req.Purpose,
		VehicleNumber:    req.VehicleNumber,
		FlatID:           req.FlatID,
		Status:           string(req.Status),
		NotificationSent: req.NotificationSent,
		ActionBy:         req.ActionBy,
		ApprovedBy:       req.ApprovedBy,
		ApprovedAt:       req.ApprovedAt,
		RejectedBy:       req.RejectedBy,
		RejectedAt:       req.RejectedAt,
		EnteredAt:        req.EnteredAt,
		ExitedAt:         req.ExitedAt,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
	}
}
