package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/visitsafe/server/internal/model"
)

// RequestRepo is the visitor-request store: the single source of truth for a
// request's status. Transition is the only status write path.
type RequestRepo interface {
	Create(ctx context.Context, req model.VisitorRequest) error
	Get(ctx context.Context, residencyID, id string) (model.VisitorRequest, error)
	// FindResidencyID resolves the tenant owning a request id. It backs the
	// scan-all-residencies fallback for callers that arrive without one.
	FindResidencyID(ctx context.Context, requestID string) (string, error)
	Transition(ctx context.Context, residencyID, id string, next model.Status, actor string) error
	// MarkNotificationSent sets the durable idempotency flag; it is
	// monotonic and never resets to false.
	MarkNotificationSent(ctx context.Context, residencyID, id string) error
	ListByResidency(ctx context.Context, residencyID string, limit int) ([]model.VisitorRequest, error)
}

type requestRepo struct {
	db *sql.DB
}

// NewRequestRepo creates a new RequestRepo instance
func NewRequestRepo(db *sql.DB) RequestRepo {
	return &requestRepo{db: db}
}

const requestColumns = `
	id, residency_id, visitor_name, visitor_phone, purpose, vehicle_number,
	flat_id, status, approval_token, notification_sent,
	action_by, approved_by, approved_at, rejected_by, rejected_at,
	entered_at, exited_at, created_at, updated_at
`

func scanRequest(row interface{ Scan(...any) error }) (model.VisitorRequest, error) {
	var req model.VisitorRequest
	err := row.Scan(
		&req.ID,
		&req.ResidencyID,
		&req.VisitorName,
		&req.VisitorPhone,
		&req.Purpose,
		&req.VehicleNumber,
		&req.FlatID,
		&req.Status,
		&req.ApprovalToken,
		&req.NotificationSent,
		&req.ActionBy,
		&req.ApprovedBy,
		&req.ApprovedAt,
		&req.RejectedBy,
		&req.RejectedAt,
		&req.EnteredAt,
		&req.ExitedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func (r *requestRepo) Create(ctx context.Context, req model.VisitorRequest) error {
	query := `
		INSERT INTO visitor_requests
			(id, residency_id, visitor_name, visitor_phone, purpose, vehicle_number,
			 flat_id, status, approval_token, notification_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.ResidencyID, req.VisitorName, req.VisitorPhone, req.Purpose,
		req.VehicleNumber, req.FlatID, req.Status, req.ApprovalToken, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert visitor request: %w", err)
	}
	return nil
}

func (r *requestRepo) Get(ctx context.Context, residencyID, id string) (model.VisitorRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM visitor_requests WHERE residency_id = $1 AND id = $2`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, residencyID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VisitorRequest{}, model.ErrNotFound
		}
		return model.VisitorRequest{}, fmt.Errorf("failed to query visitor request: %w", err)
	}
	return req, nil
}

func (r *requestRepo) FindResidencyID(ctx context.Context, requestID string) (string, error) {
	var residencyID string
	err := r.db.QueryRowContext(ctx,
		`SELECT residency_id FROM visitor_requests WHERE id = $1`, requestID).Scan(&residencyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve residency for request: %w", err)
	}
	return residencyID, nil
}

// Transition validates the status machine and applies the write atomically:
// the UPDATE is conditioned on the status read in this call, so a concurrent
// transition that lands in between causes a conflict instead of a lost write.
func (r *requestRepo) Transition(ctx context.Context, residencyID, id string, next model.Status, actor string) error {
	current, err := r.Get(ctx, residencyID, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return model.ErrConflict
	}

	now := time.Now().UTC()
	var result sql.Result
	switch next {
	case model.StatusApproved:
		result, err = r.db.ExecContext(ctx, `
			UPDATE visitor_requests
			SET status = $3, updated_at = $4, action_by = $5, approved_by = $5, approved_at = $4
			WHERE residency_id = $1 AND id = $2 AND status = $6
		`, residencyID, id, next, now, actor, current.Status)
	case model.StatusRejected:
		result, err = r.db.ExecContext(ctx, `
			UPDATE visitor_requests
			SET status = $3, updated_at = $4, action_by = $5, rejected_by = $5, rejected_at = $4
			WHERE residency_id = $1 AND id = $2 AND status = $6
		`, residencyID, id, next, now, actor, current.Status)
	case model.StatusEntered:
		result, err = r.db.ExecContext(ctx, `
			UPDATE visitor_requests
			SET status = $3, updated_at = $4, action_by = $5, entered_at = $4
			WHERE residency_id = $1 AND id = $2 AND status = $6
		`, residencyID, id, next, now, actor, current.Status)
	case model.StatusExited:
		result, err = r.db.ExecContext(ctx, `
			UPDATE visitor_requests
			SET status = $3, updated_at = $4, action_by = $5, exited_at = $4
			WHERE residency_id = $1 AND id = $2 AND status = $6
		`, residencyID, id, next, now, actor, current.Status)
	default:
		return model.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update visitor request status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Raced with another transition between the read and the write.
		return model.ErrConflict
	}
	return nil
}

func (r *requestRepo) MarkNotificationSent(ctx context.Context, residencyID, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE visitor_requests
		SET notification_sent = TRUE, updated_at = $3
		WHERE residency_id = $1 AND id = $2
	`, residencyID, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *requestRepo) ListByResidency(ctx context.Context, residencyID string, limit int) ([]model.VisitorRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + `
		FROM visitor_requests
		WHERE residency_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, residencyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query visitor requests: %w", err)
	}
	defer rows.Close()

	var requests []model.VisitorRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visitor request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visitor requests: %w", err)
	}
	return requests, nil
}
