// internal/repository/schema.go
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintOpenAmount  = "uq_deposit_intents_open_amount"
	constraintDepositHash = "uq_deposit_intents_tx_hash"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id                   TEXT PRIMARY KEY,
	balance              NUMERIC(38,18) NOT NULL DEFAULT 0,
	balance_corrected_at TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deposit_intents (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id),
	base_amount   NUMERIC(38,18) NOT NULL CHECK (base_amount > 0),
	unique_amount NUMERIC(38,18) NOT NULL CHECK (unique_amount > base_amount),
	address       TEXT NOT NULL,
	salt          INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL CHECK (status IN ('waiting','matched_pending','confirmed','expired')),
	tx_hash       TEXT,
	from_address  TEXT,
	block_number  BIGINT,
	confirmations INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	matched_at    TIMESTAMPTZ,
	confirmed_at  TIMESTAMPTZ,
	expired_at    TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_deposit_intents_tx_hash UNIQUE (tx_hash)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_deposit_intents_open_amount
	ON deposit_intents (unique_amount) WHERE status = 'waiting';
CREATE INDEX IF NOT EXISTS idx_deposit_intents_status ON deposit_intents (status, expires_at);
CREATE INDEX IF NOT EXISTS idx_deposit_intents_user ON deposit_intents (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL REFERENCES users(id),
	to_address            TEXT NOT NULL,
	amount                NUMERIC(38,18) NOT NULL CHECK (amount > 0),
	status                TEXT NOT NULL CHECK (status IN ('queued','processing','sent','failed','refunded')),
	tx_hash               TEXT,
	nonce                 BIGINT,
	processing_started_at TIMESTAMPTZ,
	error_reason          TEXT,
	created_at            TIMESTAMPTZ NOT NULL,
	sent_at               TIMESTAMPTZ,
	failed_at             TIMESTAMPTZ,
	refunded_at           TIMESTAMPTZ,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status ON withdrawal_requests (status, created_at);
CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_user ON withdrawal_requests (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS scanner_checkpoints (
	key          TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS unmatched_transfers (
	tx_hash       TEXT PRIMARY KEY,
	from_address  TEXT NOT NULL,
	amount        NUMERIC(38,18) NOT NULL,
	block_number  BIGINT NOT NULL,
	reason        TEXT NOT NULL CHECK (reason IN ('unmatched','ambiguous')),
	candidate_ids TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS balance_corrections (
	id                      BIGSERIAL PRIMARY KEY,
	user_id                 TEXT NOT NULL REFERENCES users(id),
	stored_balance          NUMERIC(38,18) NOT NULL,
	computed_balance        NUMERIC(38,18) NOT NULL,
	confirmed_deposits      NUMERIC(38,18) NOT NULL,
	outstanding_withdrawals NUMERIC(38,18) NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables idempotently
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
