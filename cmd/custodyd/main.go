// cmd/custodyd/main.go
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/cache"
	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/config"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/handler"
	"github.com/Gazprom100/TAPDEL-sub000/internal/nonce"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/internal/security"
	"github.com/Gazprom100/TAPDEL-sub000/internal/server"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"
	"github.com/Gazprom100/TAPDEL-sub000/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============================================================================
	// Storage
	// ============================================================================
	pool, err := repository.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	// Redis is an accelerator only: without it nonces come from the chain
	// and the scanner resumes from the Postgres checkpoint.
	redisCache := cache.NewCache(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Cluster, cfg.Redis.Namespace)
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, running without cache", zap.Error(err))
		_ = redisCache.Close()
		redisCache = nil
	} else {
		defer redisCache.Close()
	}
	cancelPing()

	depositRepo := repository.NewDepositRepository(pool)
	withdrawalRepo := repository.NewWithdrawalRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	checkpointRepo := repository.NewCheckpointRepository(pool)
	transferRepo := repository.NewTransferRepository(pool)

	// ============================================================================
	// Chain and custody key
	// ============================================================================
	chain, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:       cfg.Chain.RPCURL,
		ChainID:      big.NewInt(cfg.Chain.ChainID),
		Timeout:      cfg.Chain.RPCTimeout,
		ReadRetries:  cfg.Chain.ReadRetries,
		RetryBackoff: cfg.Chain.RetryBackoff,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect chain", zap.Error(err))
	}
	defer chain.Close()

	vault, err := newVault(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init vault", zap.Error(err))
	}
	keys, err := security.LoadKeyVault(cfg.Custody.KeystorePath, cfg.Custody.Address, cfg.Custody.PassphrasePath, vault, logger)
	if err != nil {
		logger.Fatal("failed to load custodial keystore", zap.Error(err))
	}
	if err := keys.Verify(ctx); err != nil {
		logger.Fatal("custodial key does not open", zap.Error(err))
	}

	// ============================================================================
	// Events
	// ============================================================================
	bus := events.NewBus(newPublisher(cfg, redisCache, logger), logger)
	defer bus.Close()

	// ============================================================================
	// Usecases and workers
	// ============================================================================
	depositUC := usecase.NewDepositUsecase(
		depositRepo, transferRepo, checkpointRepo, chain, redisCache, bus,
		usecase.DepositSettingsFromConfig(cfg), logger,
	)
	withdrawalUC := usecase.NewWithdrawalUsecase(
		withdrawalRepo, ledgerRepo, chain, keys,
		nonce.NewAllocator(redisCache, chain, cfg.Withdrawal.NonceTTL, logger),
		bus, usecase.WithdrawalSettingsFromConfig(cfg), logger,
	)
	reconcileUC := usecase.NewReconcileUsecase(ledgerRepo, bus, cfg.Reconcile.Epsilon, logger)

	matcher := worker.NewDepositMatcher(depositUC, cfg.Deposit.ScanInterval, logger)
	signer := worker.NewWithdrawalWorker(
		withdrawalUC,
		repository.NewSignerLock(pool, cfg.Custody.Address),
		cfg.Withdrawal.PollInterval,
		cfg.Withdrawal.LockRetryInterval,
		logger,
	)
	janitor := worker.NewJanitor(depositUC, withdrawalUC, cfg.Withdrawal.JanitorInterval, logger)

	router := server.NewRouter(server.Handlers{
		Deposits:    handler.NewDepositHandler(depositUC, logger),
		Withdrawals: handler.NewWithdrawalHandler(withdrawalUC, logger),
		Admin:       handler.NewAdminHandler(depositUC, reconcileUC, logger),
	}, signer, pool)
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, router, cfg.Server.ShutdownTimeout, logger)

	// ============================================================================
	// Run
	// ============================================================================
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { matcher.Start(gctx); return nil })
	g.Go(func() error { signer.Start(gctx); return nil })
	g.Go(func() error { janitor.Start(gctx); return nil })
	if cfg.Reconcile.Enabled {
		scheduler := worker.NewReconcileScheduler(reconcileUC, cfg.Reconcile.Schedule, logger)
		g.Go(func() error { return scheduler.Start(gctx) })
	}
	g.Go(func() error { return httpServer.Start(gctx) })

	logger.Info("custody service started",
		zap.String("address", cfg.Custody.Address),
		zap.String("network", cfg.Chain.Network),
		zap.String("http_addr", cfg.Server.HTTPAddr))

	if err := g.Wait(); err != nil {
		logger.Error("custody service stopped with error", zap.Error(err))
		return
	}
	logger.Info("custody service stopped")
}

func newVault(cfg *config.Config, logger *zap.Logger) (*security.Vault, error) {
	var provider security.VaultProvider = security.NewEnvVaultProvider()
	if cfg.Security.VaultProvider == "file" {
		fp, err := security.NewFileVaultProvider(cfg.Security.FileVaultDir, cfg.Security.FileVaultKey)
		if err != nil {
			return nil, err
		}
		provider = fp
	}
	return security.NewVault(provider, 5*time.Minute, logger), nil
}

func newPublisher(cfg *config.Config, c *cache.Cache, logger *zap.Logger) events.Publisher {
	switch cfg.Events.Sink {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
	case "redis":
		if c != nil {
			return events.NewRedisPublisher(c, cfg.Events.RedisChannel)
		}
		logger.Warn("redis event sink requested without redis, logging events instead")
	}
	return events.NewLogPublisher(logger)
}
