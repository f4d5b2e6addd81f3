package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/fare-engine/internal/config"
	"github.com/example/fare-engine/internal/delta"
	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/httpapi"
	"github.com/example/fare-engine/internal/ingest"
	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/payments"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/routing"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/stream"
	"github.com/example/fare-engine/internal/throttle"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ledger   storage.FareLedger
		edits    storage.BidEditLog
		events   storage.EventLog
		profiles storage.ProfileStore
		requests delta.RequestStore
	)
	if cfg.PGDSN != "" {
		db, err := storage.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := storage.RunMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations applied", "dir", cfg.MigrationsDir)
		}
		ledger = storage.NewPostgresLedger(db)
		edits = storage.NewPostgresBidEdits(db)
		events = storage.NewPostgresEvents(db)
		profiles = storage.NewPostgresProfiles(db)
		requests = delta.NewPostgresStore(db)
		logger.Info("storage backend: postgres")
	} else {
		ledger = storage.NewMemoryLedger()
		edits = storage.NewMemoryBidEdits()
		events = storage.NewMemoryEvents()
		profiles = storage.NewMemoryProfiles()
		requests = delta.NewMemoryStore()
		logger.Warn("storage backend: in-memory, state is lost on restart")
	}

	var (
		limiter    throttle.Limiter
		cooldowns  reliability.CooldownStore
		scoreCache reliability.ScoreCache
		holds      payments.HoldStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limiter = throttle.NewRedis(rdb, cfg.EditWindow, cfg.EditLimit)
		cooldowns = reliability.NewRedisCooldowns(rdb)
		scoreCache = reliability.NewRedisScoreCache(rdb, cfg.ScoreCacheTTL)
		holds = payments.NewRedisHolds(rdb)
		logger.Info("coordination backend: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = throttle.NewMemory(cfg.EditWindow, cfg.EditLimit)
		cooldowns = reliability.NewMemoryCooldowns()
		scoreCache = reliability.NewMemoryScoreCache(cfg.ScoreCacheTTL)
		holds = payments.NewMemoryHolds()
	}

	reg := stream.NewRegistry()
	reg.Logger = logging.ForComponent(logger, "stream")

	var (
		outcomes  httpapi.OutcomePublisher
		fanout    httpapi.FarePublisher
		decisions delta.DecisionPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		op := ingest.NewOutcomeProducer(cfg.KafkaBrokers, cfg.OutcomeTopic)
		defer op.Close()
		dp := ingest.NewDecisionProducer(cfg.KafkaBrokers, cfg.DecisionTopic)
		defer dp.Close()
		outcomes, fanout, decisions = op, dp, dp
		logger.Info("event pipeline: kafka", "brokers", cfg.KafkaBrokers,
			"outcome_topic", cfg.OutcomeTopic, "decision_topic", cfg.DecisionTopic)
	} else if cfg.DecisionWebhookURL != "" {
		wn := stream.NewWebhookNotifier(cfg.DecisionWebhookURL)
		fanout, decisions = wn, wn
		logger.Info("event pipeline: decision webhook", "url", cfg.DecisionWebhookURL)
	}

	var router routing.Provider
	if cfg.RoutingURL != "" {
		router = routing.NewHTTPProvider(cfg.RoutingURL)
		if cfg.RoutingCacheTTL > 0 {
			router = routing.WithCache(router, cfg.RoutingCacheTTL)
		}
		logger.Info("routing provider", "url", cfg.RoutingURL, "cache_ttl", cfg.RoutingCacheTTL)
	}

	var settle *payments.Service
	if cfg.StripeAPIKey != "" {
		settle = payments.NewService(cfg.StripeAPIKey, holds)
		settle.Logger = logging.ForComponent(logger, "payments")
		logger.Info("settlement holds enabled")
	}

	fares := &fare.Service{
		Ledger:   ledger,
		Edits:    edits,
		Throttle: limiter,
		EditBand: cfg.EditBand,
		Logger:   logging.ForComponent(logger, "fare"),
	}
	deltas := &delta.Engine{
		Requests:       requests,
		Ledger:         ledger,
		Edits:          edits,
		Throttle:       limiter,
		EditBand:       cfg.EditBand,
		EscalateMinPct: cfg.EscalateMinPct,
		Publisher:      decisions,
		Stream:         reg,
		Logger:         logging.ForComponent(logger, "delta"),
	}
	rel := &reliability.Service{
		Events:    events,
		Cooldowns: cooldowns,
		Cache:     scoreCache,
		Scorer:    reliability.Scorer{Weights: cfg.Weights, MinAwarded: cfg.MinAwarded},
		Window:    cfg.ScoreWindow,
		Cooldown:  cfg.Cooldown,
		Logger:    logging.ForComponent(logger, "reliability"),
	}

	deps := httpapi.Deps{
		Profiles:    profiles,
		Fares:       fares,
		Deltas:      deltas,
		Reliability: rel,
		Routing:     router,
		Outcomes:    outcomes,
		Fanout:      fanout,
		Stream:      reg,
	}
	if settle != nil {
		deltas.Settlement = settle
		deps.Settlement = settle
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(logging.ForComponent(logger, "http"), deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fare engine listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
