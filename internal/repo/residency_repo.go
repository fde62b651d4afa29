package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/visitsafe/server/internal/model"
)

// ResidencyRepo defines the interface for residency (tenant) operations
type ResidencyRepo interface {
	Create(ctx context.Context, res model.Residency, adminPasswordHash string) error
	GetByID(ctx context.Context, id string) (model.Residency, error)
	AdminPasswordHash(ctx context.Context, id string) (string, error)
	SetServiceStatus(ctx context.Context, id string, status model.ServiceStatus) error
	SetAdminToken(ctx context.Context, id, token string) error
	ClearAdminToken(ctx context.Context, id, token string) error
	Delete(ctx context.Context, id string) error
}

type residencyRepo struct {
	db *sql.DB
}

// NewResidencyRepo creates a new ResidencyRepo instance
func NewResidencyRepo(db *sql.DB) ResidencyRepo {
	return &residencyRepo{db: db}
}

func (r *residencyRepo) Create(ctx context.Context, res model.Residency, adminPasswordHash string) error {
	query := `
		INSERT INTO residencies (id, name, service_status, admin_username, admin_password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, res.ID, res.Name, res.ServiceStatus, res.AdminUsername, adminPasswordHash)
	if err != nil {
		return fmt.Errorf("failed to insert residency: %w", err)
	}
	return nil
}

func (r *residencyRepo) GetByID(ctx context.Context, id string) (model.Residency, error) {
	query := `
		SELECT id, name, service_status, admin_username, COALESCE(admin_fcm_token, ''), created_at
		FROM residencies
		WHERE id = $1
	`
	var res model.Residency
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&res.ID,
		&res.Name,
		&res.ServiceStatus,
		&res.AdminUsername,
		&res.AdminFCMToken,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Residency{}, model.ErrNotFound
		}
		return model.Residency{}, fmt.Errorf("failed to query residency: %w", err)
	}
	return res, nil
}

func (r *residencyRepo) AdminPasswordHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT admin_password_hash FROM residencies WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("failed to query admin credentials: %w", err)
	}
	return hash, nil
}

func (r *residencyRepo) SetServiceStatus(ctx context.Context, id string, status model.ServiceStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE residencies SET service_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SetAdminToken replaces the residency admin device token (single-value field).
func (r *residencyRepo) SetAdminToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE residencies SET admin_fcm_token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("failed to set admin token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ClearAdminToken removes the admin token only if it still holds the given
// value, so a token registered in between is never wiped.
func (r *residencyRepo) ClearAdminToken(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE residencies SET admin_fcm_token = NULL WHERE id = $1 AND admin_fcm_token = $2`, id, token)
	if err != nil {
		return fmt.Errorf("failed to clear admin token: %w", err)
	}
	return nil
}

func (r *residencyRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM residencies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete residency: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
