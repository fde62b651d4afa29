package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/visitsafe/server/internal/model"
)

// FlatRepo defines the interface for flat reference data
type FlatRepo interface {
	Create(ctx context.Context, f model.Flat) error
	GetByID(ctx context.Context, residencyID, id string) (model.Flat, error)
	ListByResidency(ctx context.Context, residencyID string) ([]model.Flat, error)
	Delete(ctx context.Context, residencyID, id string) error
}

// BlockRepo defines the interface for block reference data
type BlockRepo interface {
	Create(ctx context.Context, b model.Block) error
	GetByID(ctx context.Context, residencyID, id string) (model.Block, error)
	ListByResidency(ctx context.Context, residencyID string) ([]model.Block, error)
	Delete(ctx context.Context, residencyID, id string) error
}

type flatRepo struct {
	db *sql.DB
}

// NewFlatRepo creates a new FlatRepo instance
func NewFlatRepo(db *sql.DB) FlatRepo {
	return &flatRepo{db: db}
}

func (r *flatRepo) Create(ctx context.Context, f model.Flat) error {
	query := `
		INSERT INTO flats (id, residency_id, block_id, number, floor)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.ResidencyID, f.BlockID, f.Number, f.Floor)
	if err != nil {
		return fmt.Errorf("failed to insert flat: %w", err)
	}
	return nil
}

func (r *flatRepo) GetByID(ctx context.Context, residencyID, id string) (model.Flat, error) {
	query := `
		SELECT id, residency_id, COALESCE(block_id, ''), number, floor
		FROM flats
		WHERE residency_id = $1 AND id = $2
	`
	var f model.Flat
	err := r.db.QueryRowContext(ctx, query, residencyID, id).Scan(
		&f.ID, &f.ResidencyID, &f.BlockID, &f.Number, &f.Floor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Flat{}, model.ErrNotFound
		}
		return model.Flat{}, fmt.Errorf("failed to query flat: %w", err)
	}
	return f, nil
}

func (r *flatRepo) ListByResidency(ctx context.Context, residencyID string) ([]model.Flat, error) {
	query := `
		SELECT id, residency_id, COALESCE(block_id, ''), number, floor
		FROM flats
		WHERE residency_id = $1
		ORDER BY number
	`
	rows, err := r.db.QueryContext(ctx, query, residencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flats: %w", err)
	}
	defer rows.Close()

	var flats []model.Flat
	for rows.Next() {
		var f model.Flat
		if err := rows.Scan(&f.ID, &f.ResidencyID, &f.BlockID, &f.Number, &f.Floor); err != nil {
			return nil, fmt.Errorf("failed to scan flat: %w", err)
		}
		flats = append(flats, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flats: %w", err)
	}
	return flats, nil
}

func (r *flatRepo) Delete(ctx context.Context, residencyID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM flats WHERE residency_id = $1 AND id = $2`, residencyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete flat: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type blockRepo struct {
	db *sql.DB
}

// NewBlockRepo creates a new BlockRepo instance
func NewBlockRepo(db *sql.DB) BlockRepo {
	return &blockRepo{db: db}
}

func (r *blockRepo) Create(ctx context.Context, b model.Block) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocks (id, residency_id, name) VALUES ($1, $2, $3)`,
		b.ID, b.ResidencyID, b.Name)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return nil
}

func (r *blockRepo) GetByID(ctx context.Context, residencyID, id string) (model.Block, error) {
	var b model.Block
	err := r.db.QueryRowContext(ctx,
		`SELECT id, residency_id, name FROM blocks WHERE residency_id = $1 AND id = $2`,
		residencyID, id).Scan(&b.ID, &b.ResidencyID, &b.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Block{}, model.ErrNotFound
		}
		return model.Block{}, fmt.Errorf("failed to query block: %w", err)
	}
	return b, nil
}

func (r *blockRepo) ListByResidency(ctx context.Context, residencyID string) ([]model.Block, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, residency_id, name FROM blocks WHERE residency_id = $1 ORDER BY name`, residencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var b model.Block
		if err := rows.Scan(&b.ID, &b.ResidencyID, &b.Name); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocks: %w", err)
	}
	return blocks, nil
}

func (r *blockRepo) Delete(ctx context.Context, residencyID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE residency_id = $1 AND id = $2`, residencyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
