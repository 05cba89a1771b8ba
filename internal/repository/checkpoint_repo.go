// internal/repository/checkpoint_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCheckpointRepository persists scanner watermarks
type PgCheckpointRepository struct {
	pool *pgxpool.Pool
}

func NewCheckpointRepository(pool *pgxpool.Pool) *PgCheckpointRepository {
	return &PgCheckpointRepository{pool: pool}
}

var _ CheckpointRepository = (*PgCheckpointRepository)(nil)

func (r *PgCheckpointRepository) GetCheckpoint(ctx context.Context, key string) (uint64, bool, error) {
	var height int64
	err := r.pool.QueryRow(ctx, `SELECT block_number FROM scanner_checkpoints WHERE key = $1`, key).Scan(&height)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return uint64(height), true, nil
}

func (r *PgCheckpointRepository) SaveCheckpoint(ctx context.Context, key string, height uint64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scanner_checkpoints (key, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET block_number = EXCLUDED.block_number, updated_at = NOW()
	`, key, int64(height))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
