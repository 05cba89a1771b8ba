// internal/repository/db.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/config"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

// ConnectDB opens the pool, retrying with exponential backoff while the
// database comes up.
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	maxRetries := cfg.ConnRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	delay := 2 * time.Second

	for i := 1; i <= maxRetries; i++ {
		pool, err := connectOnce(ctx, poolCfg)
		if err == nil {
			logger.Info("database connected", zap.Int("attempt", i))
			return pool, nil
		}
		logger.Warn("database connection failed",
			zap.Int("attempt", i),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))

		if i == maxRetries {
			return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, errors.New("unreachable")
}

func connectOnce(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return pool, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func ptrUint64(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}
