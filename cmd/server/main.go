// Command server runs the ganamos API: an L402-paywalled job board with a
// race-free claim coordinator.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianmurray333/ganamos-sub006/internal/groups"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/events"
	jobshandler "github.com/brianmurray333/ganamos-sub006/internal/jobs/handler"
	"github.com/brianmurray333/ganamos-sub006/internal/jobs/service"
	jobstore "github.com/brianmurray333/ganamos-sub006/internal/jobs/store"
	"github.com/brianmurray333/ganamos-sub006/internal/l402"
	l402store "github.com/brianmurray333/ganamos-sub006/internal/l402/store"
	"github.com/brianmurray333/ganamos-sub006/internal/lightning"
	"github.com/brianmurray333/ganamos-sub006/internal/macaroon"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/config"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/database"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/health"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/kafka/producer"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/logger"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/metrics"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/redis"
	"github.com/brianmurray333/ganamos-sub006/internal/ratelimit"
	transport "github.com/brianmurray333/ganamos-sub006/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	m := metrics.New()
	healthHandler := health.New()

	// Settlement oracle: LND over REST when configured, otherwise the
	// deterministic fake for local development.
	var oracle lightning.Oracle
	if cfg.LNDHost != "" {
		lnd, err := lightning.NewLND(lightning.LNDConfig{
			Host:        cfg.LNDHost,
			MacaroonHex: cfg.LNDMacaroonHex,
			Timeout:     cfg.LNDTimeout,
		})
		if err != nil {
			return err
		}
		oracle = lnd
		log.Info("using LND settlement oracle", "host", cfg.LNDHost)
	} else {
		oracle = lightning.NewFakeOracle()
		log.Warn("no LND host configured, using fake settlement oracle")
	}

	// Persistence: PostgreSQL when configured, in-memory otherwise.
	var (
		jobs       service.Store
		members    groups.Store
		consumed   l402.ConsumedStore
		claimDedup events.DedupeStore
	)
	if cfg.DatabaseURL != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.DatabaseURL
		pool, err := database.New(dbCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		healthHandler.RegisterCheck("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})

		db := pool.DB()
		jobs = jobstore.NewPostgres(db)
		members = groups.NewPostgres(db)
		consumed = l402store.NewPostgres(db)
		claimDedup = events.NewPostgresDedupe(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		jobs = jobstore.NewInMemory()
		members = groups.NewInMemory()
		consumed = l402store.NewInMemory()
		claimDedup = events.NewInMemoryDedupe()
	}

	// Redis upgrades replay prevention and rate limiting to shared state
	// when present.
	var limiterStore ratelimit.BucketStore
	redisCfg := redis.DefaultConfig()
	redisCfg.URL = cfg.RedisURL
	redisClient, err := redis.New(redisCfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
		consumed = l402store.NewRedis(redisClient)
		limiterStore = ratelimit.NewRedis(redisClient)
	} else {
		limiterStore = ratelimit.NewInMemory()
	}

	// Claim event stream.
	var emitter events.Emitter = events.NoopEmitter{}
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.Config{
			Brokers:         cfg.KafkaBrokers,
			Retries:         5,
			DeliveryTimeout: 30 * time.Second,
		}, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		healthHandler.RegisterCheck("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if !kafkaProducer.Healthy(ctx) {
				return errors.New("kafka unreachable")
			}
			return nil
		})
		emitter = events.NewKafkaEmitter(kafkaProducer, claimDedup, cfg.KafkaTopic, log)
	} else {
		log.Warn("no kafka brokers configured, claim events are dropped")
	}

	rootKey := macaroon.DeriveRootKey([]byte(cfg.MasterSecret), cfg.TokenLocation)
	issuer := l402.NewIssuer(oracle, rootKey, cfg.TokenLocation, cfg.TokenTTL)
	verifier := l402.NewVerifier(rootKey, oracle, consumed, cfg.TokenTTL)
	paywall := l402.NewPaywall(issuer, verifier, cfg.PostFeeSats, cfg.Currency, log, m)

	coordinator := service.NewCoordinator(jobs, members, emitter, log, m)
	limiter := ratelimit.NewLimiter(limiterStore, cfg.ClaimRateLimit, cfg.ClaimRateWindow, log)

	router := transport.NewRouter(transport.Deps{
		Jobs:    jobshandler.New(coordinator, log),
		Paywall: paywall,
		Limiter: limiter,
		Health:  healthHandler,
		Logger:  log,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
