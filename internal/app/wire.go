package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	s3blob "github.com/alanyoungcy/lendcore/internal/blob/s3"
	"github.com/alanyoungcy/lendcore/internal/cache/redis"
	"github.com/alanyoungcy/lendcore/internal/config"
	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
	"github.com/alanyoungcy/lendcore/internal/notify"
	"github.com/alanyoungcy/lendcore/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to
// operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Lending core
	Registry *lend.Registry
	Engine   *lend.Engine

	// Stores
	PoolStore        domain.PoolStore
	LoanStore        domain.LoanStore
	LiquidationStore domain.LiquidationStore
	PGClient         *postgres.Client

	// Caches
	QuoteCache  domain.QuoteCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	RedisClient *redis.Client

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the
// given configuration and returns them together with a cleanup function
// that should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PGClient = pgClient
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.LoanStore = postgres.NewLoanStore(pool)
	deps.LiquidationStore = postgres.NewLiquidationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RedisClient = redisClient
	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Lending core ---
	registry, err := buildRegistry(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: pools: %w", err)
	}
	deps.Registry = registry
	deps.Engine = lend.NewEngine(lend.EngineDeps{
		Registry: registry,
		Quotes:   deps.QuoteCache,
		Compare:  domain.Brand(cfg.Compare),
		Pools:    deps.PoolStore,
		Loans:    deps.LoanStore,
		Bus:      deps.SignalBus,
		Logger:   logger,
	})

	// --- S3 liquidation archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.LiquidationStore,
			cfg.S3.ArchiveRetention.Duration,
			cfg.S3.ArchiveInterval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildRegistry constructs every configured pool and registers it.
func buildRegistry(cfg *config.Config) (*lend.Registry, error) {
	sched := lend.AccrualSchedule{
		ChargingPeriod:  cfg.Interest.ChargingPeriod.Duration,
		RecordingPeriod: cfg.Interest.RecordingPeriod.Duration,
	}

	registry := lend.NewRegistry()
	for _, pc := range cfg.Pools {
		params := lend.RiskParams{
			LiquidationMarginBps: pc.LiquidationMarginBps,
			BaseRateBps:          pc.BaseRateBps,
			MultiplierBps:        pc.MultiplierBps,
			PenaltyRateBps:       pc.PenaltyRateBps,
			Borrowable:           pc.Borrowable,
			UsableAsCollateral:   pc.UsableAsCollateral,
		}
		if pc.CollateralLimit != "" {
			v, ok := new(big.Int).SetString(pc.CollateralLimit, 10)
			if !ok {
				return nil, fmt.Errorf("pool %s: invalid collateral_limit %q", pc.Underlying, pc.CollateralLimit)
			}
			params.CollateralLimit = domain.NewAmountBig(domain.Brand(pc.ProtocolToken), v)
		}

		p := lend.NewPool(lend.PoolConfig{
			Underlying:    domain.Brand(pc.Underlying),
			ProtocolToken: domain.Brand(pc.ProtocolToken),
			InitialRate:   domain.NewRatio(pc.InitialRateNum, pc.InitialRateDen),
			Params:        params,
			Schedule:      sched,
		})
		if err := registry.Add(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
