package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/adboard/internal/blob/s3"
	"github.com/alanyoungcy/adboard/internal/boost"
	"github.com/alanyoungcy/adboard/internal/cache/redis"
	"github.com/alanyoungcy/adboard/internal/catalog"
	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/config"
	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
	"github.com/alanyoungcy/adboard/internal/keylock"
	"github.com/alanyoungcy/adboard/internal/lifecycle"
	"github.com/alanyoungcy/adboard/internal/notify"
	"github.com/alanyoungcy/adboard/internal/placement"
	"github.com/alanyoungcy/adboard/internal/server/handler"
	"github.com/alanyoungcy/adboard/internal/store/memory"
	"github.com/alanyoungcy/adboard/internal/store/postgres"
	"github.com/alanyoungcy/adboard/internal/sweeper"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Clock clock.Clock

	// Stores
	Listings domain.ListingStore
	Slots    domain.SlotStore
	Boosts   domain.BoostStore
	Audit    domain.AuditStore
	Tx       domain.TxRunner // nil for the memory backend

	// Redis-backed; LockManager and RateLimiter are nil without Redis.
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier    *notify.Notifier
	NotifyQueue *notify.Queue

	// Engine
	Catalog   *catalog.Catalog
	Allocator *placement.Allocator
	Scheduler *boost.Scheduler
	Lifecycle *lifecycle.Service
	Sweeper   *sweeper.Sweeper
	Driver    *boost.Driver

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Clock:   clock.NewSystem(),
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Catalog (fatal when misconfigured) ---
	cat, err := catalog.New(cfg.Catalog.TierDefinitions(), catalog.Pricing{
		HighlightFee:     cfg.Catalog.HighlightFee,
		BoostCreditPrice: cfg.Catalog.BoostCreditPrice,
		BoostIntervals:   cfg.Catalog.BoostIntervals,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: catalog: %w", err))
	}
	deps.Catalog = cat

	// --- Storage ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.ConnMaxLifetime.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Listings = postgres.NewListingStore(pool)
		deps.Slots = postgres.NewSlotStore(pool)
		deps.Boosts = postgres.NewBoostStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Tx = pgClient
		deps.Pingers["postgres"] = pgClient
	case "memory":
		deps.Listings = memory.NewListingStore()
		deps.Slots = memory.NewSlotStore()
		deps.Boosts = memory.NewBoostStore()
		deps.Audit = memory.NewAuditStore(nil)
	default:
		return fail(fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.SignalBus = events.NewLocalBus(256)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewAuditArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Audit,
			deps.Clock.Now,
			logger,
		)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
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

	// --- Engine ---
	var eventNotifier events.Notifier
	if len(senders) > 0 {
		deps.NotifyQueue = notify.NewQueue(deps.Notifier, cfg.Notify.QueueSize, logger)
		eventNotifier = deps.NotifyQueue
	}
	recorder := events.NewRecorder(deps.Audit, deps.SignalBus, eventNotifier, logger)
	locks := &keylock.Map{}

	deps.Allocator = placement.New(cat.Tiers(), deps.Slots, logger)
	if err := deps.Allocator.Load(ctx); err != nil {
		return fail(fmt.Errorf("wire: load slot tables: %w", err))
	}

	deps.Scheduler = boost.NewScheduler(deps.Listings, deps.Boosts, deps.Allocator, locks, deps.Clock, recorder, logger)
	deps.Lifecycle = lifecycle.NewService(cat, deps.Listings, deps.Allocator, deps.Scheduler, locks, deps.Clock, recorder, logger)
	if deps.Tx != nil {
		deps.Lifecycle.WithTx(deps.Tx)
		deps.Scheduler.WithTx(deps.Tx)
	}

	deps.Sweeper = sweeper.New(
		deps.Listings, deps.Slots, deps.Lifecycle, deps.Clock, recorder,
		cfg.Sweeper.Interval.Duration, cfg.Sweeper.BatchSize, logger,
	)
	deps.Driver = boost.NewDriver(
		deps.Scheduler, deps.Boosts, deps.Clock,
		cfg.Boost.TickInterval.Duration, cfg.Boost.BatchSize, cfg.Boost.Concurrency, logger,
	)
	if deps.LockManager != nil {
		deps.Sweeper.WithLock(deps.LockManager, cfg.Sweeper.LockTTL.Duration)
		deps.Driver.WithLock(deps.LockManager, cfg.Boost.LockTTL.Duration)
	}

	return deps, cleanup, nil
}

// pingFunc adapts a health-check function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
