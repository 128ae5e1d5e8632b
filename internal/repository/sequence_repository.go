package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SequenceRepository hands out per-prefix counters for human readable numbers.
type SequenceRepository struct {
	db *sqlx.DB
}

// NewSequenceRepository constructs the repository.
func NewSequenceRepository(db *sqlx.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next atomically increments and returns the counter of prefix, starting at 1.
func (r *SequenceRepository) Next(ctx context.Context, prefix string) (int64, error) {
	const query = `INSERT INTO sequences (prefix, value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET value = sequences.value + 1
RETURNING value`
	var value int64
	if err := r.db.GetContext(ctx, &value, query, prefix); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", prefix, err)
	}
	return value, nil
}
