package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/notify"
	"github.com/visitsafe/server/internal/repo"
	"github.com/visitsafe/server/internal/visitor"
)

type stubRequests struct {
	repo.RequestRepo
	req *model.VisitorRequest
}

func (s *stubRequests) Get(_ context.Context, residencyID, id string) (model.VisitorRequest, error) {
	if s.req == nil || s.req.ID != id || s.req.ResidencyID != residencyID {
		return model.VisitorRequest{}, model.ErrNotFound
	}
	return *s.req, nil
}

func (s *stubRequests) FindResidencyID(_ context.Context, id string) (string, error) {
	if s.req == nil || s.req.ID != id {
		return "", model.ErrNotFound
	}
	return s.req.ResidencyID, nil
}

func (s *stubRequests) Transition(_ context.Context, residencyID, id string, next model.Status, actor string) error {
	if s.req == nil || s.req.ID != id || s.req.ResidencyID != residencyID {
		return model.ErrNotFound
	}
	if !s.req.Status.CanTransitionTo(next) {
		return model.ErrConflict
	}
	s.req.Status = next
	s.req.ActionBy = actor
	s.req.UpdatedAt = time.Now().UTC()
	return nil
}

type stubFlats struct {
	repo.FlatRepo
}

func (stubFlats) GetByID(_ context.Context, _, _ string) (model.Flat, error) {
	return model.Flat{}, model.ErrNotFound
}

type stubNotifier struct{}

func (stubNotifier) Dispatch(context.Context, notify.Input) (notify.Result, error) {
	return notify.Result{}, nil
}

func newActionHandler(req *model.VisitorRequest) (*VisitorHandler, *stubRequests) {
	requests := &stubRequests{req: req}
	svc := visitor.NewService(requests, nil, stubFlats{}, nil, nil, stubNotifier{}, zap.NewNop())
	return NewVisitorHandler(svc, zap.NewNop()), requests
}

func pendingReq() *model.VisitorRequest {
	return &model.VisitorRequest{
		ID: "req-1", ResidencyID: "R1", VisitorName: "John",
		Status: model.StatusPending, ApprovalToken: "tok-secret",
	}
}

func TestActionGET_alwaysRedirectsHome(t *testing.T) {
	handler, requests := newActionHandler(pendingReq())

	// Valid link: the action lands and the browser goes to "/".
	r := httptest.NewRequest(http.MethodGet,
		"/action?action=approve&residencyId=R1&requestId=req-1&token=tok-secret", nil)
	w := httptest.NewRecorder()
	handler.HandleAction(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, model.StatusApproved, requests.req.Status)

	// Bad token: no mutation, but still a redirect, never raw JSON.
	handler, requests = newActionHandler(pendingReq())
	r = httptest.NewRequest(http.MethodGet,
		"/action?action=reject&residencyId=R1&requestId=req-1&token=wrong", nil)
	w = httptest.NewRecorder()
	handler.HandleAction(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, model.StatusPending, requests.req.Status)
}

func TestActionPOST_returnsJSONResult(t *testing.T) {
	handler, requests := newActionHandler(pendingReq())

	body := `{"action":"approve","residencyId":"R1","requestId":"req-1","token":"tok-secret"}`
	r := httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.HandleAction(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "approved", resp["status"])
	assert.Equal(t, model.StatusApproved, requests.req.Status)

	// Repeating the action reports alreadyProcessed instead of failing.
	r = httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(body))
	w = httptest.NewRecorder()
	handler.HandleAction(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["alreadyProcessed"])
}

func TestActionPOST_unknownRequestIsSoftNotFound(t *testing.T) {
	handler, _ := newActionHandler(nil)

	body := `{"action":"approve","requestId":"ghost","token":"whatever"}`
	r := httptest.NewRequest(http.MethodPost, "/api/visitor-action", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.HandleAction(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["notFound"])
}

func TestActionPOST_badTokenForbidden(t *testing.T) {
	handler, requests := newActionHandler(pendingReq())

	body := `{"action":"approve","residencyId":"R1","requestId":"req-1","token":"wrong"}`
	r := httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.HandleAction(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, model.StatusPending, requests.req.Status)
}

func TestSubmit_validatesBody(t *testing.T) {
	handler, _ := newActionHandler(nil)

	r := httptest.NewRequest(http.MethodPost, "/api/visitor-requests",
		strings.NewReader(`{"visitorName":"John"}`))
	w := httptest.NewRecorder()
	handler.HandleSubmit(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetails_requiresMatchingToken(t *testing.T) {
	handler, _ := newActionHandler(pendingReq())

	r := httptest.NewRequest(http.MethodGet, "/api/visitor-details?visitorId=req-1&token=wrong", nil)
	w := httptest.NewRecorder()
	handler.HandleDetails(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
