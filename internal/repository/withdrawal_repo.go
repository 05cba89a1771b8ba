// internal/repository/withdrawal_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `
	id, user_id, to_address, amount::text, status, tx_hash, nonce,
	processing_started_at, error_reason,
	created_at, sent_at, failed_at, refunded_at, updated_at`

type PgWithdrawalRepository struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepository(pool *pgxpool.Pool) *PgWithdrawalRepository {
	return &PgWithdrawalRepository{pool: pool}
}

var _ WithdrawalRepository = (*PgWithdrawalRepository)(nil)

// CreateWithDebit debits the ledger and enqueues the request atomically
func (r *PgWithdrawalRepository) CreateWithDebit(ctx context.Context, w *domain.WithdrawalRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE users SET balance = balance - $2::numeric, updated_at = $3
		WHERE id = $1 AND balance >= $2::numeric
	`, w.UserID, w.Amount.String(), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO withdrawal_requests (
			id, user_id, to_address, amount, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $6)
	`,
		w.ID,
		w.UserID,
		w.ToAddress,
		w.Amount.String(),
		w.Status,
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	w.UpdatedAt = w.CreatedAt
	return nil
}

func (r *PgWithdrawalRepository) GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func (r *PgWithdrawalRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

// ClaimNextQueued marks the oldest queued request processing. Rows locked by
// a concurrent claimer are skipped.
func (r *PgWithdrawalRepository) ClaimNextQueued(ctx context.Context, now time.Time) (*domain.WithdrawalRequest, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = $2, processing_started_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM withdrawal_requests
			WHERE status = $3
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + withdrawalColumns

	w, err := scanWithdrawal(r.pool.QueryRow(ctx, query,
		now, domain.WithdrawalStatusProcessing, domain.WithdrawalStatusQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim withdrawal: %w", err)
	}
	return w, nil
}

func (r *PgWithdrawalRepository) Requeue(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, "requeue", `
		UPDATE withdrawal_requests
		SET status = $2, processing_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND tx_hash IS NULL
	`, id, domain.WithdrawalStatusQueued, domain.WithdrawalStatusProcessing)
}

func (r *PgWithdrawalRepository) SetBroadcastInfo(ctx context.Context, id, txHash string, nonce uint64) (bool, error) {
	return r.exec(ctx, "record broadcast", `
		UPDATE withdrawal_requests
		SET tx_hash = $2, nonce = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, txHash, int64(nonce), domain.WithdrawalStatusProcessing)
}

func (r *PgWithdrawalRepository) MarkSent(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	return r.exec(ctx, "mark sent", `
		UPDATE withdrawal_requests
		SET status = $2, tx_hash = $3, sent_at = $4, error_reason = NULL, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.WithdrawalStatusSent, txHash, at, domain.WithdrawalStatusProcessing)
}

func (r *PgWithdrawalRepository) MarkFailed(ctx context.Context, id string, from domain.WithdrawalStatus, reason string, at time.Time) (bool, error) {
	if !from.CanTransitionTo(domain.WithdrawalStatusFailed) {
		return false, fmt.Errorf("withdrawal cannot fail from %s", from)
	}
	return r.exec(ctx, "mark failed", `
		UPDATE withdrawal_requests
		SET status = $2, error_reason = $3, failed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.WithdrawalStatusFailed, reason, at, from)
}

func (r *PgWithdrawalRepository) FailStuck(ctx context.Context, id string, cutoff time.Time, reason string, at time.Time) (bool, error) {
	return r.exec(ctx, "fail stuck", `
		UPDATE withdrawal_requests
		SET status = $2, error_reason = $3, failed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND tx_hash IS NULL AND processing_started_at < $6
	`, id, domain.WithdrawalStatusFailed, reason, at, domain.WithdrawalStatusProcessing, cutoff)
}

func (r *PgWithdrawalRepository) Refund(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, amountStr string
	err = tx.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, refunded_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING user_id, amount::text
	`, id, domain.WithdrawalStatusRefunded, at, domain.WithdrawalStatusFailed).Scan(&userID, &amountStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark refunded: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE users SET balance = balance + $2::numeric, updated_at = $3
		WHERE id = $1
	`, userID, amountStr, at)
	if err != nil {
		return false, fmt.Errorf("failed to credit refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, fmt.Errorf("refund withdrawal %s: user %s: %w", id, userID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit refund: %w", err)
	}
	return true, nil
}

func (r *PgWithdrawalRepository) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = $1 AND processing_started_at < $2
		ORDER BY processing_started_at`
	return r.list(ctx, query, domain.WithdrawalStatusProcessing, cutoff)
}

func (r *PgWithdrawalRepository) ListFailed(ctx context.Context) ([]*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY failed_at`
	return r.list(ctx, query, domain.WithdrawalStatusFailed)
}

// ============================================================================
// HELPERS
// ============================================================================

func (r *PgWithdrawalRepository) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s withdrawal: %w", op, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PgWithdrawalRepository) list(ctx context.Context, query string, args ...any) ([]*domain.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate withdrawals: %w", err)
	}
	return out, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var (
		w         domain.WithdrawalRequest
		amountStr string
		nonce     *int64
	)
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.ToAddress,
		&amountStr,
		&w.Status,
		&w.TxHash,
		&nonce,
		&w.ProcessingStartedAt,
		&w.ErrorReason,
		&w.CreatedAt,
		&w.SentAt,
		&w.FailedAt,
		&w.RefundedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
	}

	if w.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("invalid withdrawal amount %q: %w", amountStr, err)
	}
	w.Nonce = ptrUint64(nonce)
	return &w, nil
}
