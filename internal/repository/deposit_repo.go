// internal/repository/deposit_repo.go
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

const depositColumns = `
	id, user_id, base_amount::text, unique_amount::text, address, salt,
	status, tx_hash, from_address, block_number, confirmations,
	created_at, expires_at, matched_at, confirmed_at, expired_at, updated_at`

type PgDepositRepository struct {
	pool *pgxpool.Pool
}

func NewDepositRepository(pool *pgxpool.Pool) *PgDepositRepository {
	return &PgDepositRepository{pool: pool}
}

var _ DepositRepository = (*PgDepositRepository)(nil)

// ============================================================================
// CORE CRUD OPERATIONS
// ============================================================================

// Create inserts a waiting intent, creating the user's ledger row on first use
func (r *PgDepositRepository) Create(ctx context.Context, intent *domain.DepositIntent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, intent.UserID); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deposit_intents (
			id, user_id, base_amount, unique_amount, address, salt,
			status, confirmations, created_at, expires_at, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5, $6,
			$7, 0, $8, $9, $8
		)
	`,
		intent.ID,
		intent.UserID,
		intent.BaseAmount.String(),
		intent.UniqueAmount.String(),
		intent.Address,
		int64(intent.Salt),
		intent.Status,
		intent.CreatedAt,
		intent.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintOpenAmount) {
			return domain.ErrDuplicateUniqueAmount
		}
		return fmt.Errorf("failed to create deposit intent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deposit intent: %w", err)
	}
	intent.UpdatedAt = intent.CreatedAt
	return nil
}

func (r *PgDepositRepository) GetByID(ctx context.Context, id string) (*domain.DepositIntent, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_intents WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PgDepositRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.DepositIntent, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_intents WHERE tx_hash = $1`
	return r.getOne(ctx, query, txHash)
}

func (r *PgDepositRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositIntent, error) {
	query := `SELECT ` + depositColumns + `
		FROM deposit_intents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *PgDepositRepository) ListWaiting(ctx context.Context) ([]*domain.DepositIntent, error) {
	query := `SELECT ` + depositColumns + `
		FROM deposit_intents
		WHERE status = $1
		ORDER BY created_at`
	return r.list(ctx, query, domain.DepositStatusWaiting)
}

func (r *PgDepositRepository) ListMatchedPending(ctx context.Context) ([]*domain.DepositIntent, error) {
	query := `SELECT ` + depositColumns + `
		FROM deposit_intents
		WHERE status = $1
		ORDER BY block_number`
	return r.list(ctx, query, domain.DepositStatusMatchedPending)
}

// ============================================================================
// STATE TRANSITIONS
// ============================================================================

func (r *PgDepositRepository) MarkMatched(ctx context.Context, id string, m MatchInfo) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE deposit_intents
		SET
			status = $2,
			tx_hash = $3,
			from_address = $4,
			block_number = $5,
			confirmations = $6,
			matched_at = $7,
			updated_at = $7
		WHERE id = $1 AND status = ANY($8)
	`,
		id,
		domain.DepositStatusMatchedPending,
		m.TxHash,
		m.FromAddress,
		int64(m.BlockNumber),
		m.Confirmations,
		m.MatchedAt,
		domain.DepositSourcesOf(domain.DepositStatusMatchedPending),
	)
	if err != nil {
		if isUniqueViolation(err, constraintDepositHash) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark deposit matched: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PgDepositRepository) UpdateConfirmations(ctx context.Context, id string, blockNumber uint64, confirmations int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deposit_intents
		SET block_number = $2, confirmations = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, int64(blockNumber), confirmations, domain.DepositStatusMatchedPending)
	if err != nil {
		return fmt.Errorf("failed to update confirmations: %w", err)
	}
	return nil
}

func (r *PgDepositRepository) ConfirmAndCredit(ctx context.Context, id string, confirmations int, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, baseStr string
	err = tx.QueryRow(ctx, `
		UPDATE deposit_intents
		SET status = $2, confirmations = $3, confirmed_at = $4, updated_at = $4
		WHERE id = $1 AND status = ANY($5)
		RETURNING user_id, base_amount::text
	`,
		id,
		domain.DepositStatusConfirmed,
		confirmations,
		at,
		domain.DepositSourcesOf(domain.DepositStatusConfirmed),
	).Scan(&userID, &baseStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to confirm deposit: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE users SET balance = balance + $2::numeric, updated_at = $3
		WHERE id = $1
	`, userID, baseStr, at)
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, fmt.Errorf("credit deposit %s: user %s: %w", id, userID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return true, nil
}

func (r *PgDepositRepository) ExpireOverdue(ctx context.Context, cutoff, now time.Time) ([]*domain.DepositIntent, error) {
	query := `
		UPDATE deposit_intents
		SET status = $2, expired_at = $1, updated_at = $1
		WHERE status = ANY($3) AND expires_at <= $4
		RETURNING ` + depositColumns
	return r.list(ctx, query, now, domain.DepositStatusExpired, domain.DepositSourcesOf(domain.DepositStatusExpired), cutoff)
}

// ============================================================================
// HELPERS
// ============================================================================

func (r *PgDepositRepository) getOne(ctx context.Context, query string, args ...any) (*domain.DepositIntent, error) {
	intent, err := scanDeposit(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit intent: %w", err)
	}
	return intent, nil
}

func (r *PgDepositRepository) list(ctx context.Context, query string, args ...any) ([]*domain.DepositIntent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposit intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.DepositIntent
	for rows.Next() {
		intent, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deposit intents: %w", err)
	}
	return intents, nil
}

func scanDeposit(row pgx.Row) (*domain.DepositIntent, error) {
	var (
		d                  domain.DepositIntent
		baseStr, uniqueStr string
		salt               int32
		blockNumber        *int64
	)
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&baseStr,
		&uniqueStr,
		&d.Address,
		&salt,
		&d.Status,
		&d.TxHash,
		&d.FromAddress,
		&blockNumber,
		&d.Confirmations,
		&d.CreatedAt,
		&d.ExpiresAt,
		&d.MatchedAt,
		&d.ConfirmedAt,
		&d.ExpiredAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan deposit intent: %w", err)
	}

	if d.BaseAmount, err = decimal.NewFromString(baseStr); err != nil {
		return nil, fmt.Errorf("invalid base amount %q: %w", baseStr, err)
	}
	if d.UniqueAmount, err = decimal.NewFromString(uniqueStr); err != nil {
		return nil, fmt.Errorf("invalid unique amount %q: %w", uniqueStr, err)
	}
	d.Salt = uint32(salt)
	d.BlockNumber = ptrUint64(blockNumber)
	return &d, nil
}
