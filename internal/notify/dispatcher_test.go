package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/push"
	"github.com/visitsafe/server/internal/tokens"
)

type fakeGateway struct {
	calls   [][]string
	results []push.Result
	errs    []error
	sent    []push.Message
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Send(_ context.Context, toks []string, msg push.Message) (push.Result, error) {
	i := len(g.calls)
	g.calls = append(g.calls, append([]string(nil), toks...))
	g.sent = append(g.sent, msg)
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	if err != nil {
		return push.Result{}, err
	}
	if i < len(g.results) {
		return g.results[i], nil
	}
	return push.Result{SuccessCount: len(toks)}, nil
}

type fakeDirectory struct {
	tokens      []string
	adminToken  string
	invalidated []string
}

func (d *fakeDirectory) Resolve(_ context.Context, _ string, _ tokens.Selector) ([]string, error) {
	return d.tokens, nil
}

func (d *fakeDirectory) AdminToken(_ context.Context, _ string) (string, error) {
	return d.adminToken, nil
}

func (d *fakeDirectory) Invalidate(_ context.Context, _ string, dead []string) error {
	d.invalidated = append(d.invalidated, dead...)
	return nil
}

type fakeStore struct {
	requests map[string]*model.VisitorRequest
	marked   []string
}

func (s *fakeStore) Get(_ context.Context, _, id string) (model.VisitorRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return model.VisitorRequest{}, model.ErrNotFound
	}
	return *req, nil
}

func (s *fakeStore) MarkNotificationSent(_ context.Context, _, id string) error {
	s.marked = append(s.marked, id)
	if req, ok := s.requests[id]; ok {
		req.NotificationSent = true
	}
	return nil
}

func newTestDispatcher(gw, fb push.Gateway, dir *fakeDirectory, store *fakeStore) *Dispatcher {
	d := NewDispatcher(gw, fb, dir, store, "https://gate.example.com", zap.NewNop())
	d.retryUnit = time.Millisecond
	return d
}

func pendingRequest(id string) *model.VisitorRequest {
	return &model.VisitorRequest{
		ID:            id,
		Status:        model.StatusPending,
		ApprovalToken: "tok-secret",
	}
}

func TestDispatch_firstSendIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	dir := &fakeDirectory{tokens: []string{"T1"}}
	store := &fakeStore{requests: map[string]*model.VisitorRequest{"req-1": pendingRequest("req-1")}}
	d := newTestDispatcher(gw, nil, dir, store)

	in := Input{ResidencyID: "R1", RequestID: "req-1", Selector: tokens.ForFlat("F1"), Title: "New Visitor Request"}

	res, err := d.Dispatch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, Result{SuccessCount: 1}, res)
	assert.Equal(t, []string{"req-1"}, store.marked)
	assert.Len(t, gw.calls, 1)

	// Second trigger for the same event: a true no-op, zero gateway calls.
	res, err = d.Dispatch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, gw.calls, 1)
}

func TestDispatch_skipsNonPendingRequest(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{requests: map[string]*model.VisitorRequest{
		"req-1": {ID: "req-1", Status: model.StatusApproved},
	}}
	d := newTestDispatcher(gw, nil, &fakeDirectory{tokens: []string{"T1"}}, store)

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, gw.calls)
	assert.Empty(t, store.marked)
}

func TestDispatch_emptyTokenSetSkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw, nil, &fakeDirectory{}, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.Broadcast()})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, gw.calls)
}

func TestDispatch_transientRetryBound(t *testing.T) {
	transient := push.Result{Failures: []push.TokenFailure{
		{Token: "T1", Class: push.FailureTransient, Reason: "Unavailable"},
	}}
	gw := &fakeGateway{results: []push.Result{transient, transient, transient}}
	dir := &fakeDirectory{tokens: []string{"T1"}}
	d := newTestDispatcher(gw, nil, dir, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.Broadcast()})
	require.NoError(t, err)
	// Exactly 1 + maxRetries passes, then the batch counts as failed.
	assert.Len(t, gw.calls, 3)
	assert.Equal(t, Result{FailureCount: 1}, res)
	assert.Empty(t, dir.invalidated)
}

func TestDispatch_permanentFailurePrunedNotRetried(t *testing.T) {
	gw := &fakeGateway{results: []push.Result{{
		SuccessCount: 1,
		Failures: []push.TokenFailure{
			{Token: "T-dead", Class: push.FailurePermanent, Reason: "NotRegistered"},
		},
	}}}
	dir := &fakeDirectory{tokens: []string{"T1", "T-dead"}}
	d := newTestDispatcher(gw, nil, dir, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.Broadcast()})
	require.NoError(t, err)
	assert.Len(t, gw.calls, 1)
	assert.Equal(t, Result{SuccessCount: 1, FailureCount: 1}, res)
	assert.Equal(t, []string{"T-dead"}, dir.invalidated)
}

func TestDispatch_retryPassExcludesSettledTokens(t *testing.T) {
	gw := &fakeGateway{results: []push.Result{
		{
			SuccessCount: 1,
			Failures: []push.TokenFailure{
				{Token: "T2", Class: push.FailureTransient, Reason: "InternalServerError"},
			},
		},
		{SuccessCount: 1},
	}}
	dir := &fakeDirectory{tokens: []string{"T1", "T2"}}
	d := newTestDispatcher(gw, nil, dir, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.Broadcast()})
	require.NoError(t, err)
	require.Len(t, gw.calls, 2)
	assert.Equal(t, []string{"T1", "T2"}, gw.calls[0])
	assert.Equal(t, []string{"T2"}, gw.calls[1])
	assert.Equal(t, Result{SuccessCount: 2}, res)
}

func TestDispatch_fallbackGatewayOnTotalPrimaryFailure(t *testing.T) {
	primary := &fakeGateway{errs: []error{errors.New("fcm unreachable")}}
	fallback := &fakeGateway{}
	dir := &fakeDirectory{tokens: []string{"T1"}}
	d := newTestDispatcher(primary, fallback, dir, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.Broadcast()})
	require.NoError(t, err)
	assert.Len(t, primary.calls, 1)
	assert.Len(t, fallback.calls, 1)
	assert.Equal(t, Result{SuccessCount: 1}, res)
}

func TestDispatch_adminTokenAlwaysUnioned(t *testing.T) {
	gw := &fakeGateway{}
	dir := &fakeDirectory{tokens: []string{"T1"}, adminToken: "T-admin"}
	d := newTestDispatcher(gw, nil, dir, &fakeStore{})

	res, err := d.Dispatch(context.Background(), Input{ResidencyID: "R1", Selector: tokens.ForFlat("F1")})
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, []string{"T1", "T-admin"}, gw.calls[0])
	assert.Equal(t, Result{SuccessCount: 2}, res)
}

func TestDispatch_payloadCarriesActionURLs(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{requests: map[string]*model.VisitorRequest{"req-1": pendingRequest("req-1")}}
	d := newTestDispatcher(gw, nil, &fakeDirectory{tokens: []string{"T1"}}, store)

	_, err := d.Dispatch(context.Background(), Input{
		ResidencyID: "R1",
		RequestID:   "req-1",
		Selector:    tokens.ForFlat("F1"),
		Title:       "New Visitor Request",
		Body:        "John is requesting entry.",
		Data:        map[string]string{"visitorName": "John", "flatId": "F1"},
	})
	require.NoError(t, err)
	require.Len(t, gw.sent, 1)

	data := gw.sent[0].Data
	assert.Equal(t, "req-1", data["requestId"])
	assert.Equal(t, "R1", data["residencyId"])
	assert.Equal(t, ActionTypeVisitorRequest, data["actionType"])
	assert.Equal(t, "John", data["visitorName"])
	assert.Contains(t, data["actionUrlApprove"], "action=approve")
	assert.Contains(t, data["actionUrlApprove"], "requestId=req-1")
	assert.Contains(t, data["actionUrlApprove"], "token=tok-secret")
	assert.Contains(t, data["actionUrlReject"], "action=reject")
}
