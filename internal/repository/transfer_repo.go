// internal/repository/transfer_repo.go
package repository

import (
	"context"
	"fmt"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgTransferRepository journals custodial transfers that need manual review
type PgTransferRepository struct {
	pool *pgxpool.Pool
}

func NewTransferRepository(pool *pgxpool.Pool) *PgTransferRepository {
	return &PgTransferRepository{pool: pool}
}

var _ TransferRepository = (*PgTransferRepository)(nil)

func (r *PgTransferRepository) RecordFlagged(ctx context.Context, t *domain.UnmatchedTransfer) (bool, error) {
	candidates := t.CandidateIDs
	if candidates == nil {
		candidates = []string{}
	}
	result, err := r.pool.Exec(ctx, `
		INSERT INTO unmatched_transfers (
			tx_hash, from_address, amount, block_number, reason, candidate_ids, created_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		t.TxHash,
		t.FromAddress,
		t.Amount.String(),
		int64(t.BlockNumber),
		t.Reason,
		candidates,
		t.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record flagged transfer: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PgTransferRepository) ListFlagged(ctx context.Context, limit, offset int) ([]*domain.UnmatchedTransfer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tx_hash, from_address, amount::text, block_number, reason, candidate_ids, created_at
		FROM unmatched_transfers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged transfers: %w", err)
	}
	defer rows.Close()

	var out []*domain.UnmatchedTransfer
	for rows.Next() {
		var (
			t         domain.UnmatchedTransfer
			amountStr string
			block     int64
		)
		if err := rows.Scan(&t.TxHash, &t.FromAddress, &amountStr, &block, &t.Reason, &t.CandidateIDs, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flagged transfer: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("invalid transfer amount %q: %w", amountStr, err)
		}
		t.BlockNumber = uint64(block)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flagged transfers: %w", err)
	}
	return out, nil
}
