package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/visitsafe/server/internal/model"
)

// GuardRepo defines the interface for guard repository operations
type GuardRepo interface {
	Create(ctx context.Context, g model.Guard, passwordHash string) error
	GetByID(ctx context.Context, residencyID, id string) (model.Guard, error)
	GetByUsername(ctx context.Context, residencyID, username string) (model.Guard, error)
	PasswordHash(ctx context.Context, residencyID, username string) (string, error)
	ListByResidency(ctx context.Context, residencyID string) ([]model.Guard, error)
	Delete(ctx context.Context, residencyID, id string) error
	AddToken(ctx context.Context, residencyID, id, token string) error
	RemoveToken(ctx context.Context, residencyID, token string) error
}

type guardRepo struct {
	db *sql.DB
}

// NewGuardRepo creates a new GuardRepo instance
func NewGuardRepo(db *sql.DB) GuardRepo {
	return &guardRepo{db: db}
}

const guardColumns = `
	id, residency_id, username, display_name, phone, active,
	COALESCE(fcm_token, ''), fcm_tokens, created_at
`

func scanGuard(row interface{ Scan(...any) error }) (model.Guard, error) {
	var g model.Guard
	err := row.Scan(
		&g.ID,
		&g.ResidencyID,
		&g.Username,
		&g.DisplayName,
		&g.Phone,
		&g.Active,
		&g.FCMToken,
		pq.Array(&g.FCMTokens),
		&g.CreatedAt,
	)
	return g, err
}

func (r *guardRepo) Create(ctx context.Context, g model.Guard, passwordHash string) error {
	query := `
		INSERT INTO guards (id, residency_id, username, display_name, phone, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		g.ID, g.ResidencyID, g.Username, g.DisplayName, g.Phone, passwordHash, g.Active)
	if err != nil {
		return fmt.Errorf("failed to insert guard: %w", err)
	}
	return nil
}

func (r *guardRepo) GetByID(ctx context.Context, residencyID, id string) (model.Guard, error) {
	query := `SELECT ` + guardColumns + ` FROM guards WHERE residency_id = $1 AND id = $2`
	g, err := scanGuard(r.db.QueryRowContext(ctx, query, residencyID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Guard{}, model.ErrNotFound
		}
		return model.Guard{}, fmt.Errorf("failed to query guard: %w", err)
	}
	return g, nil
}

func (r *guardRepo) GetByUsername(ctx context.Context, residencyID, username string) (model.Guard, error) {
	query := `SELECT ` + guardColumns + ` FROM guards WHERE residency_id = $1 AND username = $2`
	g, err := scanGuard(r.db.QueryRowContext(ctx, query, residencyID, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Guard{}, model.ErrNotFound
		}
		return model.Guard{}, fmt.Errorf("failed to query guard: %w", err)
	}
	return g, nil
}

func (r *guardRepo) PasswordHash(ctx context.Context, residencyID, username string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM guards WHERE residency_id = $1 AND username = $2 AND active`,
		residencyID, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("failed to query guard credentials: %w", err)
	}
	return hash, nil
}

func (r *guardRepo) ListByResidency(ctx context.Context, residencyID string) ([]model.Guard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+guardColumns+` FROM guards WHERE residency_id = $1 ORDER BY username`, residencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query guards: %w", err)
	}
	defer rows.Close()

	var guards []model.Guard
	for rows.Next() {
		g, err := scanGuard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guard: %w", err)
		}
		guards = append(guards, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guards: %w", err)
	}
	return guards, nil
}

func (r *guardRepo) Delete(ctx context.Context, residencyID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM guards WHERE residency_id = $1 AND id = $2`, residencyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete guard: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *guardRepo) AddToken(ctx context.Context, residencyID, id, token string) error {
	query := `
		UPDATE guards
		SET fcm_tokens = array_append(fcm_tokens, $3)
		WHERE residency_id = $1 AND id = $2
		  AND NOT (fcm_tokens @> ARRAY[$3]::text[])
		  AND COALESCE(fcm_token, '') <> $3
	`
	_, err := r.db.ExecContext(ctx, query, residencyID, id, token)
	if err != nil {
		return fmt.Errorf("failed to add guard token: %w", err)
	}
	return nil
}

func (r *guardRepo) RemoveToken(ctx context.Context, residencyID, token string) error {
	query := `
		UPDATE guards
		SET fcm_tokens = array_remove(fcm_tokens, $2),
		    fcm_token = NULLIF(fcm_token, $2)
		WHERE residency_id = $1
		  AND (fcm_tokens @> ARRAY[$2]::text[] OR fcm_token = $2)
	`
	_, err := r.db.ExecContext(ctx, query, residencyID, token)
	if err != nil {
		return fmt.Errorf("failed to remove guard token: %w", err)
	}
	return nil
}
