// internal/repository/signer_lock.go
package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSignerLock holds a session-level advisory lock on a dedicated connection.
// The lock dies with the connection, so a crashed signer frees it.
type PgSignerLock struct {
	pool *pgxpool.Pool
	key  string
	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewSignerLock(pool *pgxpool.Pool, address string) *PgSignerLock {
	return &PgSignerLock{pool: pool, key: "custody-signer:" + strings.ToLower(address)}
}

var _ SignerLock = (*PgSignerLock)(nil)

func (l *PgSignerLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		// verify the session holding the lock is still alive
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return false, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PgSignerLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key); err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}
