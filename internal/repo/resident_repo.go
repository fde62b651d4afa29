package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/visitsafe/server/internal/model"
)

// ResidentRepo defines the interface for resident repository operations.
// Token mutations live here too: the token directory normalizes shapes on
// top of these primitives.
type ResidentRepo interface {
	Create(ctx context.Context, res model.Resident, passwordHash string) error
	GetByID(ctx context.Context, residencyID, id string) (model.Resident, error)
	GetByUsername(ctx context.Context, residencyID, username string) (model.Resident, error)
	PasswordHash(ctx context.Context, residencyID, username string) (string, error)
	ListByResidency(ctx context.Context, residencyID string) ([]model.Resident, error)
	ListByFlatID(ctx context.Context, residencyID, flatID string) ([]model.Resident, error)
	ListByFlatNumber(ctx context.Context, residencyID, flatNumber string) ([]model.Resident, error)
	Delete(ctx context.Context, residencyID, id string) error
	AddToken(ctx context.Context, residencyID, id, token string) error
	RemoveToken(ctx context.Context, residencyID, token string) error
}

type residentRepo struct {
	db *sql.DB
}

// NewResidentRepo creates a new ResidentRepo instance
func NewResidentRepo(db *sql.DB) ResidentRepo {
	return &residentRepo{db: db}
}

const residentColumns = `
	id, residency_id, username, display_name, phone, active,
	COALESCE(flat_id, ''), block_label, flat_number,
	COALESCE(fcm_token, ''), fcm_tokens, created_at
`

func scanResident(row interface{ Scan(...any) error }) (model.Resident, error) {
	var res model.Resident
	err := row.Scan(
		&res.ID,
		&res.ResidencyID,
		&res.Username,
		&res.DisplayName,
		&res.Phone,
		&res.Active,
		&res.FlatID,
		&res.BlockLabel,
		&res.FlatNumber,
		&res.FCMToken,
		pq.Array(&res.FCMTokens),
		&res.CreatedAt,
	)
	return res, err
}

func (r *residentRepo) Create(ctx context.Context, res model.Resident, passwordHash string) error {
	query := `
		INSERT INTO residents (id, residency_id, username, display_name, phone, password_hash, active, flat_id, block_label, flat_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		res.ID, res.ResidencyID, res.Username, res.DisplayName, res.Phone,
		passwordHash, res.Active, res.FlatID, res.BlockLabel, res.FlatNumber)
	if err != nil {
		return fmt.Errorf("failed to insert resident: %w", err)
	}
	return nil
}

func (r *residentRepo) GetByID(ctx context.Context, residencyID, id string) (model.Resident, error) {
	query := `SELECT ` + residentColumns + ` FROM residents WHERE residency_id = $1 AND id = $2`
	res, err := scanResident(r.db.QueryRowContext(ctx, query, residencyID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Resident{}, model.ErrNotFound
		}
		return model.Resident{}, fmt.Errorf("failed to query resident: %w", err)
	}
	return res, nil
}

func (r *residentRepo) GetByUsername(ctx context.Context, residencyID, username string) (model.Resident, error) {
	query := `SELECT ` + residentColumns + ` FROM residents WHERE residency_id = $1 AND username = $2`
	res, err := scanResident(r.db.QueryRowContext(ctx, query, residencyID, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Resident{}, model.ErrNotFound
		}
		return model.Resident{}, fmt.Errorf("failed to query resident: %w", err)
	}
	return res, nil
}

func (r *residentRepo) PasswordHash(ctx context.Context, residencyID, username string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM residents WHERE residency_id = $1 AND username = $2 AND active`,
		residencyID, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("failed to query resident credentials: %w", err)
	}
	return hash, nil
}

func (r *residentRepo) list(ctx context.Context, query string, args ...any) ([]model.Resident, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query residents: %w", err)
	}
	defer rows.Close()

	var residents []model.Resident
	for rows.Next() {
		res, err := scanResident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resident: %w", err)
		}
		residents = append(residents, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate residents: %w", err)
	}
	return residents, nil
}

func (r *residentRepo) ListByResidency(ctx context.Context, residencyID string) ([]model.Resident, error) {
	return r.list(ctx, `SELECT `+residentColumns+` FROM residents WHERE residency_id = $1 ORDER BY username`, residencyID)
}

func (r *residentRepo) ListByFlatID(ctx context.Context, residencyID, flatID string) ([]model.Resident, error) {
	return r.list(ctx, `SELECT `+residentColumns+` FROM residents WHERE residency_id = $1 AND flat_id = $2`, residencyID, flatID)
}

func (r *residentRepo) ListByFlatNumber(ctx context.Context, residencyID, flatNumber string) ([]model.Resident, error) {
	return r.list(ctx, `SELECT `+residentColumns+` FROM residents WHERE residency_id = $1 AND flat_number = $2`, residencyID, flatNumber)
}

func (r *residentRepo) Delete(ctx context.Context, residencyID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM residents WHERE residency_id = $1 AND id = $2`, residencyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete resident: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AddToken appends the token to the canonical array field. The statement is a
// no-op when the token is already stored in either the array or the legacy
// single-value field, so redundant registrations never write.
func (r *residentRepo) AddToken(ctx context.Context, residencyID, id, token string) error {
	query := `
		UPDATE residents
		SET fcm_tokens = array_append(fcm_tokens, $3)
		WHERE residency_id = $1 AND id = $2
		  AND NOT (fcm_tokens @> ARRAY[$3]::text[])
		  AND COALESCE(fcm_token, '') <> $3
	`
	_, err := r.db.ExecContext(ctx, query, residencyID, id, token)
	if err != nil {
		return fmt.Errorf("failed to add resident token: %w", err)
	}
	return nil
}

// RemoveToken clears the token wherever it is stored, across all residents of
// the residency. Principal identity is never touched; delete-if-absent is a
// no-op.
func (r *residentRepo) RemoveToken(ctx context.Context, residencyID, token string) error {
	query := `
		UPDATE residents
		SET fcm_tokens = array_remove(fcm_tokens, $2),
		    fcm_token = NULLIF(fcm_token, $2)
		WHERE residency_id = $1
		  AND (fcm_tokens @> ARRAY[$2]::text[] OR fcm_token = $2)
	`
	_, err := r.db.ExecContext(ctx, query, residencyID, token)
	if err != nil {
		return fmt.Errorf("failed to remove resident token: %w", err)
	}
	return nil
}
