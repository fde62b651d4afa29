package visitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/notify"
	"github.com/visitsafe/server/internal/repo"
	"github.com/visitsafe/server/internal/tokens"
)

type fakeRequests struct {
	repo.RequestRepo
	byID map[string]*model.VisitorRequest
}

func newFakeRequests(reqs ...*model.VisitorRequest) *fakeRequests {
	f := &fakeRequests{byID: make(map[string]*model.VisitorRequest)}
	for _, r := range reqs {
		f.byID[r.ID] = r
	}
	return f
}

func (f *fakeRequests) Create(_ context.Context, req model.VisitorRequest) error {
	f.byID[req.ID] = &req
	return nil
}

func (f *fakeRequests) Get(_ context.Context, residencyID, id string) (model.VisitorRequest, error) {
	req, ok := f.byID[id]
	if !ok || req.ResidencyID != residencyID {
		return model.VisitorRequest{}, model.ErrNotFound
	}
	return *req, nil
}

func (f *fakeRequests) FindResidencyID(_ context.Context, id string) (string, error) {
	req, ok := f.byID[id]
	if !ok {
		return "", model.ErrNotFound
	}
	return req.ResidencyID, nil
}

func (f *fakeRequests) Transition(_ context.Context, residencyID, id string, next model.Status, actor string) error {
	req, ok := f.byID[id]
	if !ok || req.ResidencyID != residencyID {
		return model.ErrNotFound
	}
	if !req.Status.CanTransitionTo(next) {
		return model.ErrConflict
	}
	now := time.Now().UTC()
	req.Status = next
	req.UpdatedAt = now
	req.ActionBy = actor
	switch next {
	case model.StatusApproved:
		req.ApprovedBy = actor
		req.ApprovedAt = &now
	case model.StatusRejected:
		req.RejectedBy = actor
		req.RejectedAt = &now
	}
	return nil
}

func (f *fakeRequests) ListByResidency(_ context.Context, residencyID string, _ int) ([]model.VisitorRequest, error) {
	var out []model.VisitorRequest
	for _, req := range f.byID {
		if req.ResidencyID == residencyID {
			out = append(out, *req)
		}
	}
	return out, nil
}

type fakeResidentRepo struct {
	repo.ResidentRepo
	byID map[string]model.Resident
}

func (f *fakeResidentRepo) GetByID(_ context.Context, _, id string) (model.Resident, error) {
	res, ok := f.byID[id]
	if !ok {
		return model.Resident{}, model.ErrNotFound
	}
	return res, nil
}

type fakeFlatRepo struct {
	repo.FlatRepo
	byID map[string]model.Flat
}

func (f *fakeFlatRepo) GetByID(_ context.Context, _, id string) (model.Flat, error) {
	flat, ok := f.byID[id]
	if !ok {
		return model.Flat{}, model.ErrNotFound
	}
	return flat, nil
}

type fakeBlockRepo struct {
	repo.BlockRepo
	byID map[string]model.Block
}

func (f *fakeBlockRepo) GetByID(_ context.Context, _, id string) (model.Block, error) {
	b, ok := f.byID[id]
	if !ok {
		return model.Block{}, model.ErrNotFound
	}
	return b, nil
}

type fakeResidencyRepo struct {
	repo.ResidencyRepo
	residency model.Residency
}

func (f *fakeResidencyRepo) GetByID(_ context.Context, id string) (model.Residency, error) {
	if f.residency.ID != id {
		return model.Residency{}, model.ErrNotFound
	}
	return f.residency, nil
}

type fakeNotifier struct {
	inputs []notify.Input
}

func (f *fakeNotifier) Dispatch(_ context.Context, in notify.Input) (notify.Result, error) {
	f.inputs = append(f.inputs, in)
	return notify.Result{SuccessCount: 1}, nil
}

type testEnv struct {
	svc      *Service
	requests *fakeRequests
	notifier *fakeNotifier
}

func newTestEnv(requests *fakeRequests) *testEnv {
	notifier := &fakeNotifier{}
	svc := NewService(
		requests,
		&fakeResidentRepo{byID: map[string]model.Resident{
			"alice": {ID: "alice", FlatID: "F1"},
			"bob":   {ID: "bob", BlockLabel: "A", FlatNumber: "101"},
			"carol": {ID: "carol", BlockLabel: "B", FlatNumber: "101"},
		}},
		&fakeFlatRepo{byID: map[string]model.Flat{
			"F1": {ID: "F1", ResidencyID: "R1", BlockID: "B1", Number: "101"},
		}},
		&fakeBlockRepo{byID: map[string]model.Block{
			"B1": {ID: "B1", Name: "Block A"},
		}},
		&fakeResidencyRepo{residency: model.Residency{ID: "R1", ServiceStatus: model.ServiceOn}},
		notifier,
		zap.NewNop(),
	)
	svc.asyncHooks = false
	return &testEnv{svc: svc, requests: requests, notifier: notifier}
}

func pendingRequest() *model.VisitorRequest {
	return &model.VisitorRequest{
		ID:            "req-1",
		ResidencyID:   "R1",
		VisitorName:   "John",
		FlatID:        "F1",
		Status:        model.StatusPending,
		ApprovalToken: "tok-secret",
	}
}

func TestCreate_mintsTokenAndNotifiesFlat(t *testing.T) {
	env := newTestEnv(newFakeRequests())

	req, err := env.svc.Create(context.Background(), CreateInput{
		ResidencyID: "R1",
		VisitorName: "John",
		FlatID:      "F1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.NotEmpty(t, req.ApprovalToken)
	assert.False(t, req.NotificationSent)

	require.Len(t, env.notifier.inputs, 1)
	in := env.notifier.inputs[0]
	assert.Equal(t, req.ID, in.RequestID)
	assert.Equal(t, tokens.SelectFlat, in.Selector.Kind)
	assert.Equal(t, "F1", in.Selector.FlatID)
	assert.Equal(t, "John is requesting entry.", in.Body)
}

func TestCreate_rejectedWhenServiceOff(t *testing.T) {
	env := newTestEnv(newFakeRequests())
	env.svc.residencies = &fakeResidencyRepo{residency: model.Residency{ID: "R1", ServiceStatus: model.ServiceOff}}

	_, err := env.svc.Create(context.Background(), CreateInput{
		ResidencyID: "R1", VisitorName: "John", FlatID: "F1",
	})
	assert.ErrorIs(t, err, ErrServiceDisabled)
}

func TestHandleAction_approveWithTokenThenIdempotentRepeat(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	res, err := env.svc.HandleAction(context.Background(), "R1", "req-1", "approve",
		ActionCredentials{ApprovalToken: "tok-secret"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, model.StatusApproved, res.Status)

	stored := env.requests.byID["req-1"]
	assert.Equal(t, model.StatusApproved, stored.Status)
	assert.Equal(t, actorNotificationAction, stored.ApprovedBy)
	assert.NotNil(t, stored.ApprovedAt)

	// Secondary notifications: guards and the flat's residents.
	require.Len(t, env.notifier.inputs, 2)
	kinds := []tokens.SelectorKind{env.notifier.inputs[0].Selector.Kind, env.notifier.inputs[1].Selector.Kind}
	assert.Contains(t, kinds, tokens.SelectGuards)
	assert.Contains(t, kinds, tokens.SelectFlat)

	// A second identical call is a safe no-op.
	res, err = env.svc.HandleAction(context.Background(), "R1", "req-1", "approve",
		ActionCredentials{ApprovalToken: "tok-secret"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, model.StatusApproved, res.Status)
	assert.Len(t, env.notifier.inputs, 2)
}

func TestHandleAction_noTerminalResurrection(t *testing.T) {
	req := pendingRequest()
	req.Status = model.StatusApproved
	env := newTestEnv(newFakeRequests(req))

	res, err := env.svc.HandleAction(context.Background(), "R1", "req-1", "reject",
		ActionCredentials{ApprovalToken: "tok-secret"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, model.StatusApproved, res.Status)
	assert.Equal(t, model.StatusApproved, env.requests.byID["req-1"].Status)
}

func TestHandleAction_tokenMismatchForbidden(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	for _, action := range []string{"approve", "reject"} {
		_, err := env.svc.HandleAction(context.Background(), "R1", "req-1", action,
			ActionCredentials{ApprovalToken: "wrong"})
		assert.ErrorIs(t, err, model.ErrForbidden)
	}
	assert.Equal(t, model.StatusPending, env.requests.byID["req-1"].Status)
	assert.Empty(t, env.notifier.inputs)
}

func TestHandleAction_unknownRequestIsSoftNotFound(t *testing.T) {
	env := newTestEnv(newFakeRequests())

	res, err := env.svc.HandleAction(context.Background(), "", "missing", "approve",
		ActionCredentials{ApprovalToken: "whatever"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NotFound)
}

func TestHandleAction_residencyResolvedByFallbackScan(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	res, err := env.svc.HandleAction(context.Background(), "", "req-1", "reject",
		ActionCredentials{ApprovalToken: "tok-secret"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.Status)
	assert.Equal(t, model.StatusRejected, env.requests.byID["req-1"].Status)
}

func TestHandleAction_residentPathLegacyBlockMatch(t *testing.T) {
	// bob has no flatId, only block "A" / flat "101"; the request's flat
	// resolves to block name "Block A", number "101".
	env := newTestEnv(newFakeRequests(pendingRequest()))

	res, err := env.svc.HandleAction(context.Background(), "R1", "req-1", "approve",
		ActionCredentials{ResidentID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Status)
	assert.Equal(t, "bob", env.requests.byID["req-1"].ApprovedBy)
}

func TestHandleAction_residentWrongBlockForbidden(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	_, err := env.svc.HandleAction(context.Background(), "R1", "req-1", "approve",
		ActionCredentials{ResidentID: "carol"})
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, model.StatusPending, env.requests.byID["req-1"].Status)
}

func TestDecide_requiresTokenAndResident(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	_, err := env.svc.Decide(context.Background(), "req-1", "", "approve", "alice")
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = env.svc.Decide(context.Background(), "req-1", "wrong", "approve", "alice")
	assert.ErrorIs(t, err, model.ErrForbidden)

	res, err := env.svc.Decide(context.Background(), "req-1", "tok-secret", "approve", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Status)
	assert.Equal(t, "alice", env.requests.byID["req-1"].ApprovedBy)
}

func TestDetails_tokenGatedAndPendingOnly(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	details, err := env.svc.Details(context.Background(), "req-1", "tok-secret")
	require.NoError(t, err)
	assert.Equal(t, "John", details.Request.VisitorName)
	assert.Equal(t, "Block A", details.BlockName)
	assert.Equal(t, "101", details.FlatNumber)

	_, err = env.svc.Details(context.Background(), "req-1", "wrong")
	assert.ErrorIs(t, err, model.ErrForbidden)

	env.requests.byID["req-1"].Status = model.StatusApproved
	_, err = env.svc.Details(context.Background(), "req-1", "tok-secret")
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestUpdateStatus_noticeDoesNotMoveRequest(t *testing.T) {
	env := newTestEnv(newFakeRequests(pendingRequest()))

	err := env.svc.UpdateStatus(context.Background(), "R1", "req-1", "waiting_approval", "guard-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, env.requests.byID["req-1"].Status)

	require.Len(t, env.notifier.inputs, 1)
	in := env.notifier.inputs[0]
	assert.Empty(t, in.RequestID) // notices bypass the first-push guard
	assert.Equal(t, "John is waiting for your approval.", in.Body)
}

func TestUpdateStatus_guardTransitions(t *testing.T) {
	req := pendingRequest()
	req.Status = model.StatusApproved
	env := newTestEnv(newFakeRequests(req))

	require.NoError(t, env.svc.UpdateStatus(context.Background(), "R1", "req-1", "entered", "guard-1"))
	assert.Equal(t, model.StatusEntered, env.requests.byID["req-1"].Status)

	require.NoError(t, env.svc.UpdateStatus(context.Background(), "R1", "req-1", "exited", "guard-1"))
	assert.Equal(t, model.StatusExited, env.requests.byID["req-1"].Status)

	// No transition out of a terminal state.
	err := env.svc.UpdateStatus(context.Background(), "R1", "req-1", "entered", "guard-1")
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestInspect_reportsFlags(t *testing.T) {
	req := pendingRequest()
	req.NotificationSent = true
	env := newTestEnv(newFakeRequests(req))

	insp, err := env.svc.Inspect(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, insp.HasNotificationSent)
	assert.False(t, insp.HasApprovalData)
	assert.Equal(t, "R1", insp.ResidencyID)

	require.NoError(t, env.requests.Transition(context.Background(), "R1", "req-1", model.StatusApproved, "alice"))
	insp, err = env.svc.Inspect(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, insp.HasApprovalData)
}

func TestListForResident_filtersByFlatAssociation(t *testing.T) {
	other := &model.VisitorRequest{ID: "req-2", ResidencyID: "R1", VisitorName: "Jane", FlatID: "F9", Status: model.StatusPending}
	env := newTestEnv(newFakeRequests(pendingRequest(), other))

	visible, err := env.svc.ListForResident(context.Background(), "R1", "bob")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "req-1", visible[0].ID)
}
