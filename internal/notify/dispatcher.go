// Package notify resolves recipients for a visitor event and pushes to them
// with bounded retry and dead-token cleanup.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/push"
	"github.com/visitsafe/server/internal/tokens"
)

// ActionTypeVisitorRequest marks payloads whose notification carries
// approve/reject action buttons at the relay layer.
const ActionTypeVisitorRequest = "VISITOR_REQUEST"

// maxRetries bounds the retry passes after the initial send.
const maxRetries = 2

// TokenDirectory is the recipient-resolution capability the dispatcher needs.
type TokenDirectory interface {
	Resolve(ctx context.Context, residencyID string, sel tokens.Selector) ([]string, error)
	AdminToken(ctx context.Context, residencyID string) (string, error)
	Invalidate(ctx context.Context, residencyID string, deadTokens []string) error
}

// RequestStore is the slice of the request store the dispatcher reads, plus
// the single flag it writes back.
type RequestStore interface {
	Get(ctx context.Context, residencyID, id string) (model.VisitorRequest, error)
	MarkNotificationSent(ctx context.Context, residencyID, id string) error
}

// Input describes one dispatch.
type Input struct {
	ResidencyID string
	// RequestID scopes the dispatch to a visitor request: it switches on the
	// idempotency short-circuit, the action URLs, and the notification-sent
	// marker. Leave empty for informational pushes.
	RequestID string
	Selector  tokens.Selector
	Title     string
	Body      string
	Data      map[string]string
}

// Result aggregates per-token outcomes. Partial failures are counts, never
// errors.
type Result struct {
	SuccessCount int
	FailureCount int
}

// Dispatcher composes payloads and drives the gateway with the retry policy.
type Dispatcher struct {
	primary   push.Gateway
	fallback  push.Gateway // optional; used when a whole primary pass fails
	directory TokenDirectory
	store     RequestStore
	baseURL   string
	retryUnit time.Duration
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher. fallback may be nil.
func NewDispatcher(
	primary push.Gateway,
	fallback push.Gateway,
	directory TokenDirectory,
	store RequestStore,
	baseURL string,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		primary:   primary,
		fallback:  fallback,
		directory: directory,
		store:     store,
		baseURL:   baseURL,
		retryUnit: time.Second,
		log:       log,
	}
}

// Dispatch resolves the target tokens, sends, and returns aggregate counts.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (Result, error) {
	var approvalToken string
	if in.RequestID != "" {
		req, err := d.store.Get(ctx, in.ResidencyID, in.RequestID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			// The request may not be persisted yet; proceed without the
			// idempotency guard.
		case err != nil:
			return Result{}, fmt.Errorf("failed to read request for dispatch: %w", err)
		case req.NotificationSent:
			d.log.Info("notification already sent, skipping dispatch",
				zap.String("request_id", in.RequestID))
			return Result{}, nil
		case req.Status != model.StatusPending:
			d.log.Info("request no longer pending, skipping dispatch",
				zap.String("request_id", in.RequestID),
				zap.String("status", string(req.Status)))
			return Result{}, nil
		default:
			approvalToken = req.ApprovalToken
		}
	}

	targets, err := d.directory.Resolve(ctx, in.ResidencyID, in.Selector)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve tokens: %w", err)
	}

	// Admins observe every event; union their token in regardless of the
	// selector. Failure to look it up never blocks the push.
	if adminToken, err := d.directory.AdminToken(ctx, in.ResidencyID); err != nil {
		d.log.Warn("failed to fetch admin token", zap.Error(err))
	} else if adminToken != "" {
		targets = append(targets, adminToken)
	}
	targets = dedupe(targets)

	if len(targets) == 0 {
		d.log.Info("no registered devices for dispatch",
			zap.String("residency_id", in.ResidencyID))
		return Result{}, nil
	}

	msg := d.buildMessage(in, approvalToken)
	result := d.sendWithRetry(ctx, in.ResidencyID, targets, msg)

	// The durable idempotency marker is written only after at least one
	// confirmed delivery, never optimistically before sending.
	if in.RequestID != "" && result.SuccessCount > 0 {
		if err := d.store.MarkNotificationSent(ctx, in.ResidencyID, in.RequestID); err != nil {
			return result, fmt.Errorf("failed to mark notification sent: %w", err)
		}
	}

	d.log.Info("dispatch complete",
		zap.String("residency_id", in.ResidencyID),
		zap.String("request_id", in.RequestID),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
	return result, nil
}

// buildMessage attaches the machine data block. Request-scoped dispatches
// carry self-contained action URLs so a notification button can act without
// any client-side session state.
func (d *Dispatcher) buildMessage(in Input, approvalToken string) push.Message {
	data := make(map[string]string, len(in.Data)+8)
	for k, v := range in.Data {
		data[k] = v
	}
	data["residencyId"] = in.ResidencyID
	data["click_action"] = "/"
	data["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	if in.RequestID != "" {
		data["requestId"] = in.RequestID
		data["actionType"] = ActionTypeVisitorRequest
		data["actionUrlApprove"] = d.actionURL("approve", in.ResidencyID, in.RequestID, approvalToken)
		data["actionUrlReject"] = d.actionURL("reject", in.ResidencyID, in.RequestID, approvalToken)
	}

	return push.Message{Title: in.Title, Body: in.Body, Data: data}
}

func (d *Dispatcher) actionURL(action, residencyID, requestID, approvalToken string) string {
	q := url.Values{}
	q.Set("action", action)
	q.Set("residencyId", residencyID)
	q.Set("requestId", requestID)
	if approvalToken != "" {
		q.Set("token", approvalToken)
	}
	return d.baseURL + "/action?" + q.Encode()
}

// sendWithRetry drives the gateway for up to 1+maxRetries passes. Each pass
// excludes tokens already settled; only transient failures are retried, with
// a linear backoff of attempt-index times the retry unit between passes.
// Permanently dead tokens are pruned from the directory.
func (d *Dispatcher) sendWithRetry(ctx context.Context, residencyID string, targets []string, msg push.Message) Result {
	remaining := targets
	var successCount, failureCount int
	var dead []string

	errUnsettled := errors.New("transient failures remain")

	_ = retry.Do(ctx, retry.WithMaxRetries(maxRetries, linearBackoff(d.retryUnit)), func(ctx context.Context) error {
		passResult, err := d.sendOnce(ctx, remaining, msg)
		if err != nil {
			// The whole pass failed; all remaining tokens are unsettled.
			d.log.Warn("push pass failed", zap.Error(err))
			return retry.RetryableError(err)
		}

		successCount += passResult.SuccessCount
		var retryTokens []string
		for _, f := range passResult.Failures {
			if f.Class == push.FailureTransient {
				retryTokens = append(retryTokens, f.Token)
				continue
			}
			failureCount++
			dead = append(dead, f.Token)
		}
		remaining = retryTokens
		if len(remaining) > 0 {
			return retry.RetryableError(errUnsettled)
		}
		return nil
	})

	// Tokens still unsettled after the retry budget count as failed.
	failureCount += len(remaining)

	if len(dead) > 0 {
		if err := d.directory.Invalidate(ctx, residencyID, dead); err != nil {
			d.log.Warn("failed to prune dead tokens", zap.Error(err))
		}
	}

	return Result{SuccessCount: successCount, FailureCount: failureCount}
}

// sendOnce tries the primary gateway and falls back once when the whole
// primary pass fails before producing per-token results.
func (d *Dispatcher) sendOnce(ctx context.Context, targets []string, msg push.Message) (push.Result, error) {
	result, err := d.primary.Send(ctx, targets, msg)
	if err == nil {
		return result, nil
	}
	if d.fallback == nil {
		return push.Result{}, err
	}
	d.log.Warn("primary gateway failed, trying fallback",
		zap.String("primary", d.primary.Name()),
		zap.String("fallback", d.fallback.Name()),
		zap.Error(err))
	return d.fallback.Send(ctx, targets, msg)
}

func linearBackoff(unit time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * unit, false
	})
}

func dedupe(toks []string) []string {
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
