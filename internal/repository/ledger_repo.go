// internal/repository/ledger_repo.go
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

type PgLedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *PgLedgerRepository {
	return &PgLedgerRepository{pool: pool}
}

var _ LedgerRepository = (*PgLedgerRepository)(nil)

func (r *PgLedgerRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var (
		u          domain.User
		balanceStr string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, balance::text, balance_corrected_at, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &balanceStr, &u.BalanceCorrectedAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balanceStr, err)
	}
	return &u, nil
}

func (r *PgLedgerRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect users: %w", err)
	}
	return ids, nil
}

// Reconcile locks the user row, reads the history sums and lets fn decide
// whether to overwrite. Credits and debits that commit while the lock is held
// wait and then apply on top of the corrected value.
func (r *PgLedgerRepository) Reconcile(ctx context.Context, userID string, at time.Time, fn ReconcileFunc) (*domain.Reconciliation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var storedStr, depositsStr, outstandingStr string
	err = tx.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&storedStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(base_amount), 0)::text
		FROM deposit_intents
		WHERE user_id = $1 AND status = $2
	`, userID, domain.DepositStatusConfirmed).Scan(&depositsStr)
	if err != nil {
		return nil, fmt.Errorf("failed to sum deposits: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM withdrawal_requests
		WHERE user_id = $1 AND status <> $2
	`, userID, domain.WithdrawalStatusRefunded).Scan(&outstandingStr)
	if err != nil {
		return nil, fmt.Errorf("failed to sum withdrawals: %w", err)
	}

	snap := domain.LedgerSnapshot{UserID: userID}
	if snap.StoredBalance, err = decimal.NewFromString(storedStr); err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", storedStr, err)
	}
	if snap.ConfirmedDeposits, err = decimal.NewFromString(depositsStr); err != nil {
		return nil, fmt.Errorf("invalid deposit sum %q: %w", depositsStr, err)
	}
	if snap.OutstandingWithdrawals, err = decimal.NewFromString(outstandingStr); err != nil {
		return nil, fmt.Errorf("invalid withdrawal sum %q: %w", outstandingStr, err)
	}

	corrected, apply := fn(snap)
	rec := &domain.Reconciliation{
		UserID:                 userID,
		StoredBalance:          snap.StoredBalance,
		ComputedBalance:        snap.Expected(),
		ConfirmedDeposits:      snap.ConfirmedDeposits,
		OutstandingWithdrawals: snap.OutstandingWithdrawals,
		CheckedAt:              at,
	}
	if !apply {
		return rec, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET balance = $2::numeric, balance_corrected_at = $3, updated_at = $3
		WHERE id = $1
	`, userID, corrected.String(), at); err != nil {
		return nil, fmt.Errorf("failed to overwrite balance: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balance_corrections (
			user_id, stored_balance, computed_balance, confirmed_deposits, outstanding_withdrawals, created_at
		) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6)
	`,
		userID,
		snap.StoredBalance.String(),
		corrected.String(),
		snap.ConfirmedDeposits.String(),
		snap.OutstandingWithdrawals.String(),
		at,
	); err != nil {
		return nil, fmt.Errorf("failed to record correction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	rec.ComputedBalance = corrected
	rec.Corrected = true
	return rec, nil
}
