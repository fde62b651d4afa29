// Package visitor owns the visitor-request lifecycle: creation, the
// idempotent dual-trust action handler, and the guard-side status updates.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/notify"
	"github.com/visitsafe/server/internal/repo"
	"github.com/visitsafe/server/internal/tokens"
)

// ErrServiceDisabled is returned when the residency's service toggle is OFF.
var ErrServiceDisabled = errors.New("residency service is disabled")

// actorNotificationAction is the audit sentinel recorded when a transition
// arrives from a background context with no known principal.
const actorNotificationAction = "notification_action"

// Notifier is the dispatch capability the service fires events through.
type Notifier interface {
	Dispatch(ctx context.Context, in notify.Input) (notify.Result, error)
}

// Service orchestrates visitor-request operations.
type Service struct {
	requests    repo.RequestRepo
	residents   repo.ResidentRepo
	flats       repo.FlatRepo
	blocks      repo.BlockRepo
	residencies repo.ResidencyRepo
	notifier    Notifier
	log         *zap.Logger
	// hookTimeout bounds the post-commit notification side effects.
	hookTimeout time.Duration
	// asyncHooks runs post-commit notifications in the background; tests
	// flip it off to observe them deterministically.
	asyncHooks bool
}

// NewService creates a visitor service.
func NewService(
	requests repo.RequestRepo,
	residents repo.ResidentRepo,
	flats repo.FlatRepo,
	blocks repo.BlockRepo,
	residencies repo.ResidencyRepo,
	notifier Notifier,
	log *zap.Logger,
) *Service {
	return &Service{
		requests:    requests,
		residents:   residents,
		flats:       flats,
		blocks:      blocks,
		residencies: residencies,
		notifier:    notifier,
		log:         log,
		hookTimeout: 30 * time.Second,
		asyncHooks:  true,
	}
}

// CreateInput are the kiosk-submitted fields of a new request.
type CreateInput struct {
	ResidencyID   string
	VisitorName   string
	VisitorPhone  string
	Purpose       string
	VehicleNumber string
	FlatID        string
}

// Create persists a new pending request and notifies the flat's residents
// (and the admin). A push failure never fails the create.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.VisitorRequest, error) {
	if in.ResidencyID == "" || in.VisitorName == "" || in.FlatID == "" {
		return model.VisitorRequest{}, fmt.Errorf("residencyId, visitorName and flatId are required")
	}

	residency, err := s.residencies.GetByID(ctx, in.ResidencyID)
	if err != nil {
		return model.VisitorRequest{}, err
	}
	if residency.ServiceStatus == model.ServiceOff {
		return model.VisitorRequest{}, ErrServiceDisabled
	}

	now := time.Now().UTC()
	req := model.VisitorRequest{
		ID:            uuid.NewString(),
		ResidencyID:   in.ResidencyID,
		VisitorName:   in.VisitorName,
		VisitorPhone:  in.VisitorPhone,
		Purpose:       in.Purpose,
		VehicleNumber: in.VehicleNumber,
		FlatID:        in.FlatID,
		Status:        model.StatusPending,
		ApprovalToken: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return model.VisitorRequest{}, err
	}

	if _, err := s.notifier.Dispatch(ctx, notify.Input{
		ResidencyID: in.ResidencyID,
		RequestID:   req.ID,
		Selector:    tokens.ForFlat(in.FlatID),
		Title:       "New Visitor Request",
		Body:        fmt.Sprintf("%s is requesting entry.", in.VisitorName),
		Data: map[string]string{
			"visitorName": in.VisitorName,
			"flatId":      in.FlatID,
		},
	}); err != nil {
		s.log.Warn("visitor request push failed", zap.String("request_id", req.ID), zap.Error(err))
	}

	return req, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, residencyID, requestID string) (model.VisitorRequest, error) {
	return s.requests.Get(ctx, residencyID, requestID)
}

// List returns the residency's most recent requests.
func (s *Service) List(ctx context.Context, residencyID string, limit int) ([]model.VisitorRequest, error) {
	return s.requests.ListByResidency(ctx, residencyID, limit)
}

// ListForResident filters the residency's requests down to the flats the
// resident is associated with, through either lookup path.
func (s *Service) ListForResident(ctx context.Context, residencyID, residentID string) ([]model.VisitorRequest, error) {
	resident, err := s.residents.GetByID(ctx, residencyID, residentID)
	if err != nil {
		return nil, err
	}
	all, err := s.requests.ListByResidency(ctx, residencyID, 0)
	if err != nil {
		return nil, err
	}

	var visible []model.VisitorRequest
	for _, req := range all {
		flat, blockName, err := s.flatContext(ctx, residencyID, req.FlatID)
		if err != nil {
			continue
		}
		if model.ResidentMatchesFlat(resident, flat, blockName) {
			visible = append(visible, req)
		}
	}
	return visible, nil
}

// ActionCredentials carries whichever trust material the caller has: a
// resident identity from an authenticated session, or the approval token
// embedded in a notification action URL.
type ActionCredentials struct {
	ResidentID    string
	ApprovalToken string
}

// ActionResult is the success-shaped response of HandleAction. Background
// callers have no UI for errors, so "not found" and "already processed" are
// states here, not failures.
type ActionResult struct {
	Success          bool
	AlreadyProcessed bool
	NotFound         bool
	Status           model.Status
}

// HandleAction is the dual-trust status-transition entry point for approve
// and reject. Repeated calls for the same request are safe no-ops.
func (s *Service) HandleAction(ctx context.Context, residencyID, requestID, action string, creds ActionCredentials) (ActionResult, error) {
	next, err := statusForAction(action)
	if err != nil {
		return ActionResult{}, err
	}

	residencyID, err = s.resolveResidency(ctx, residencyID, requestID)
	if errors.Is(err, model.ErrNotFound) {
		return ActionResult{Success: true, NotFound: true}, nil
	}
	if err != nil {
		return ActionResult{}, err
	}

	req, err := s.requests.Get(ctx, residencyID, requestID)
	if errors.Is(err, model.ErrNotFound) {
		return ActionResult{Success: true, NotFound: true}, nil
	}
	if err != nil {
		return ActionResult{}, err
	}

	// Idempotency gate: a duplicate tap or duplicate background delivery
	// must never mutate twice.
	if req.Status != model.StatusPending {
		return ActionResult{Success: true, AlreadyProcessed: true, Status: req.Status}, nil
	}

	actor := actorNotificationAction
	switch {
	case creds.ResidentID != "":
		// In-app path: the resident must be associated with the request's
		// flat through either lookup path.
		if err := s.authorizeResident(ctx, residencyID, creds.ResidentID, req.FlatID); err != nil {
			return ActionResult{}, err
		}
		actor = creds.ResidentID
	default:
		// Background path: the approval token is the whole credential.
		if creds.ApprovalToken == "" || creds.ApprovalToken != req.ApprovalToken {
			return ActionResult{}, model.ErrForbidden
		}
	}

	if err := s.requests.Transition(ctx, residencyID, requestID, next, actor); err != nil {
		if errors.Is(err, model.ErrConflict) {
			// Raced with a concurrent decision: the stored status is the
			// single source of truth, report it instead of failing.
			current, readErr := s.requests.Get(ctx, residencyID, requestID)
			if readErr != nil {
				return ActionResult{}, readErr
			}
			return ActionResult{Success: true, AlreadyProcessed: true, Status: current.Status}, nil
		}
		return ActionResult{}, err
	}

	s.runPostCommitHooks(req, next, actor)

	return ActionResult{Success: true, Status: next}, nil
}

// Decide is the full-page approval flow: defense in depth, requiring both
// the approval token and an authenticated resident associated with the flat.
func (s *Service) Decide(ctx context.Context, requestID, approvalToken, action, residentID string) (ActionResult, error) {
	if approvalToken == "" || residentID == "" {
		return ActionResult{}, model.ErrForbidden
	}

	residencyID, err := s.resolveResidency(ctx, "", requestID)
	if err != nil {
		return ActionResult{}, err
	}
	req, err := s.requests.Get(ctx, residencyID, requestID)
	if err != nil {
		return ActionResult{}, err
	}
	if req.ApprovalToken != approvalToken {
		return ActionResult{}, model.ErrForbidden
	}
	if req.Status != model.StatusPending {
		return ActionResult{Success: true, AlreadyProcessed: true, Status: req.Status}, nil
	}
	return s.HandleAction(ctx, residencyID, requestID, action, ActionCredentials{
		ResidentID:    residentID,
		ApprovalToken: approvalToken,
	})
}

// Details is the approval-link view: visitor and flat detail, gated on the
// approval token and a still-pending status.
type Details struct {
	Request     model.VisitorRequest
	BlockName   string
	FlatNumber  string
	ResidencyID string
}

// Details returns the token-gated request detail for the approval page.
func (s *Service) Details(ctx context.Context, requestID, approvalToken string) (Details, error) {
	residencyID, err := s.resolveResidency(ctx, "", requestID)
	if err != nil {
		return Details{}, err
	}
	req, err := s.requests.Get(ctx, residencyID, requestID)
	if err != nil {
		return Details{}, err
	}
	if req.ApprovalToken != approvalToken {
		return Details{}, model.ErrForbidden
	}
	if req.Status != model.StatusPending {
		return Details{}, model.ErrConflict
	}

	flat, blockName, err := s.flatContext(ctx, residencyID, req.FlatID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return Details{}, err
	}
	return Details{
		Request:     req,
		BlockName:   blockName,
		FlatNumber:  flat.Number,
		ResidencyID: residencyID,
	}, nil
}

// Inspection is the admin/test view of one request.
type Inspection struct {
	Request             model.VisitorRequest
	Flat                model.Flat
	BlockName           string
	ResidencyID         string
	HasNotificationSent bool
	HasApprovalData     bool
}

// Inspect returns the full request plus resolved reference data.
func (s *Service) Inspect(ctx context.Context, requestID string) (Inspection, error) {
	residencyID, err := s.resolveResidency(ctx, "", requestID)
	if err != nil {
		return Inspection{}, err
	}
	req, err := s.requests.Get(ctx, residencyID, requestID)
	if err != nil {
		return Inspection{}, err
	}
	flat, blockName, err := s.flatContext(ctx, residencyID, req.FlatID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return Inspection{}, err
	}
	return Inspection{
		Request:             req,
		Flat:                flat,
		BlockName:           blockName,
		ResidencyID:         residencyID,
		HasNotificationSent: req.NotificationSent,
		HasApprovalData:     req.ApprovedBy != "" || req.RejectedBy != "",
	}, nil
}

// UpdateStatus is the guard/admin path. entered and exited are real
// transitions; arrived and waiting_approval only notify the flat's residents
// without moving the request.
func (s *Service) UpdateStatus(ctx context.Context, residencyID, requestID, status, actor string) error {
	residencyID, err := s.resolveResidency(ctx, residencyID, requestID)
	if err != nil {
		return err
	}

	switch model.NoticeKind(status) {
	case model.NoticeArrived, model.NoticeWaitingApproval:
		return s.sendNotice(ctx, residencyID, requestID, model.NoticeKind(status))
	}

	next := model.Status(status)
	if !next.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.requests.Transition(ctx, residencyID, requestID, next, actor)
}

// sendNotice pushes an informational sub-notification to the flat residents.
// No request scoping: the first-push idempotency marker belongs to the
// pending notification only.
func (s *Service) sendNotice(ctx context.Context, residencyID, requestID string, kind model.NoticeKind) error {
	req, err := s.requests.Get(ctx, residencyID, requestID)
	if err != nil {
		return err
	}

	title, body := "Visitor Arrived", fmt.Sprintf("%s has arrived at the gate.", req.VisitorName)
	if kind == model.NoticeWaitingApproval {
		title, body = "New Visitor Request", fmt.Sprintf("%s is waiting for your approval.", req.VisitorName)
	}

	_, err = s.notifier.Dispatch(ctx, notify.Input{
		ResidencyID: residencyID,
		Selector:    tokens.ForFlat(req.FlatID),
		Title:       title,
		Body:        body,
		Data: map[string]string{
			"requestId": req.ID,
			"status":    string(kind),
		},
	})
	return err
}

// resolveResidency prefers the caller-supplied tenant and falls back to a
// request-id scan only for callers that cannot carry one (notification
// buttons, legacy links). The fallback is logged so it can be eliminated.
func (s *Service) resolveResidency(ctx context.Context, residencyID, requestID string) (string, error) {
	if residencyID != "" {
		return residencyID, nil
	}
	s.log.Info("resolving residency via request-id fallback scan",
		zap.String("request_id", requestID))
	return s.requests.FindResidencyID(ctx, requestID)
}

// authorizeResident checks the flat association, attempting both the flat-id
// match and the legacy normalized block/flat-name match.
func (s *Service) authorizeResident(ctx context.Context, residencyID, residentID, flatID string) error {
	resident, err := s.residents.GetByID(ctx, residencyID, residentID)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrForbidden
	}
	if err != nil {
		return err
	}

	flat, blockName, err := s.flatContext(ctx, residencyID, flatID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if !model.ResidentMatchesFlat(resident, flat, blockName) {
		return model.ErrForbidden
	}
	return nil
}

// flatContext resolves a flat and its block name for matching and display.
func (s *Service) flatContext(ctx context.Context, residencyID, flatID string) (model.Flat, string, error) {
	flat, err := s.flats.GetByID(ctx, residencyID, flatID)
	if err != nil {
		return model.Flat{}, "", err
	}
	blockName := ""
	if flat.BlockID != "" {
		block, err := s.blocks.GetByID(ctx, residencyID, flat.BlockID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return flat, "", err
		}
		blockName = block.Name
	}
	return flat, blockName, nil
}

// runPostCommitHooks fires the secondary, smaller-scope notifications after a
// decision has been committed. Best-effort: failures are logged and never
// roll back the transition.
func (s *Service) runPostCommitHooks(req model.VisitorRequest, status model.Status, actor string) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.hookTimeout)
		defer cancel()

		title := "Visitor Approved"
		body := fmt.Sprintf("%s has been approved for entry.", req.VisitorName)
		if status == model.StatusRejected {
			title = "Visitor Rejected"
			body = fmt.Sprintf("%s has been rejected.", req.VisitorName)
		}
		data := map[string]string{
			"requestId": req.ID,
			"status":    string(status),
			"actionBy":  actor,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, err := s.notifier.Dispatch(ctx, notify.Input{
				ResidencyID: req.ResidencyID,
				Selector:    tokens.ForGuards(),
				Title:       title,
				Body:        body,
				Data:        data,
			})
			return err
		})
		g.Go(func() error {
			_, err := s.notifier.Dispatch(ctx, notify.Input{
				ResidencyID: req.ResidencyID,
				Selector:    tokens.ForFlat(req.FlatID),
				Title:       title,
				Body:        body,
				Data:        data,
			})
			return err
		})
		if err := g.Wait(); err != nil {
			s.log.Warn("post-commit notification failed",
				zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	if s.asyncHooks {
		go run()
		return
	}
	run()
}

func statusForAction(action string) (model.Status, error) {
	switch action {
	case "approve":
		return model.StatusApproved, nil
	case "reject":
		return model.StatusRejected, nil
	}
	return "", fmt.Errorf("invalid action %q", action)
}
