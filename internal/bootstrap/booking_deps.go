// Package bootstrap wires configuration, adapters, and services into a
// running API server.
package bootstrap

import (
	"context"
	"os"

	"booking_server/adapter/out/messaging"
	"booking_server/adapter/out/persistence"
	"booking_server/adapter/out/provider"
	"booking_server/config"
	"booking_server/core/port/out"
	"booking_server/core/service/availability"
	"booking_server/core/service/conflict"
	"booking_server/core/service/connection"
	"booking_server/infra/database"
	"booking_server/pkg/crypto"
	"booking_server/pkg/logger"
	"booking_server/pkg/ratelimit"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Log    zerolog.Logger

	// Repositories
	ConnectionRepo out.ConnectionRepository
	SchedulingRepo *persistence.SchedulingAdapter

	// Providers
	GoogleProvider  *provider.GoogleCalendarAdapter
	OutlookProvider *provider.OutlookCalendarAdapter
	Registry        out.ProviderRegistry

	// Messaging
	InvalidationBus out.InvalidationBus

	// Services
	Aggregator        *conflict.Aggregator
	Engine            *availability.Engine
	ConnectionService *connection.Service

	// Rate limiting for public booking pages
	SlotsLimiter *ratelimit.SlidingWindowLimiter
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "booking").Logger()

	deps := &Dependencies{Config: cfg, Log: zlog}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// PostgreSQL
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })
	logger.Info("PostgreSQL connection established")

	// Redis is optional: without it the cache stays process-local and the
	// public endpoints run unlimited.
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, continuing without it: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			logger.Info("Redis connection established")
		}
	}

	// Token encryption at rest
	var tokenCipher *crypto.TokenCipher
	if cfg.EncryptionKey != "" {
		tokenCipher, err = crypto.NewTokenCipher([]byte(cfg.EncryptionKey))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set, storing OAuth tokens unencrypted")
	}

	// Repositories
	deps.ConnectionRepo = persistence.NewConnectionAdapter(db, tokenCipher)
	deps.SchedulingRepo = persistence.NewSchedulingAdapter(db)

	// Calendar providers
	deps.GoogleProvider = provider.NewGoogleCalendarAdapter(provider.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, zlog)
	deps.OutlookProvider = provider.NewOutlookCalendarAdapter(provider.OutlookConfig{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		Tenant:       cfg.MicrosoftTenantID,
	}, zlog)
	deps.Registry = provider.NewRegistry(deps.GoogleProvider, deps.OutlookProvider)

	// Conflict aggregation with cross-instance invalidation when Redis is up
	aggregatorOpts := []conflict.Option{conflict.WithTTL(cfg.ConflictCacheTTL)}
	if deps.Redis != nil {
		bus := messaging.NewRedisInvalidationBus(deps.Redis, zlog)
		deps.InvalidationBus = bus
		aggregatorOpts = append(aggregatorOpts, conflict.WithInvalidationBus(bus))
	}
	deps.Aggregator = conflict.NewAggregator(deps.ConnectionRepo, deps.Registry, zlog, aggregatorOpts...)

	if deps.InvalidationBus != nil {
		if err := deps.InvalidationBus.Subscribe(context.Background(), deps.Aggregator.HandleRemoteInvalidation); err != nil {
			logger.Warn("Invalidation subscription failed, cache is local-only: %v", err)
		}
	}

	// Availability engine and connection management
	deps.Engine = availability.NewEngine(deps.SchedulingRepo, deps.SchedulingRepo, deps.Aggregator, nil)
	deps.ConnectionService = connection.NewService(deps.ConnectionRepo, deps.Aggregator, zlog)

	if deps.Redis != nil {
		deps.SlotsLimiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.SlotsRateLimit, cfg.SlotsRateWindow)
	}

	return deps, cleanup, nil
}
