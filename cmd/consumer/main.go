// The consumer drains the ride-outcomes topic into the reliability event log
// so scores and cooldowns stay current without coupling the producers to the
// engine's storage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fare-engine/internal/config"
	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total outcome messages fetched from Kafka",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total messages dropped as malformed or invalid",
	})
	eventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_ingested_total",
		Help: "Total outcome events appended to the event log",
	})
	ingestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ingest_errors_total",
		Help: "Total transient ingest failures left for redelivery",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, eventsIngested, ingestErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.ForComponent(logging.NewLogger(cfg.LogLevel), "consumer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var events storage.EventLog
	var dbPing func(context.Context) error
	if cfg.PGDSN != "" {
		db, err := storage.Open(cfg.PGDSN)
		if err != nil {
			logger.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		events = storage.NewPostgresEvents(db)
		dbPing = db.PingContext
	} else {
		events = storage.NewMemoryEvents()
		logger.Warn("event log: in-memory, history is lost on restart")
	}

	var cooldowns reliability.CooldownStore
	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		cooldowns = reliability.NewRedisCooldowns(rc)
	} else {
		cooldowns = reliability.NewMemoryCooldowns()
	}

	svc := &reliability.Service{
		Events:    events,
		Cooldowns: cooldowns,
		Window:    cfg.ScoreWindow,
		Cooldown:  cfg.Cooldown,
		Logger:    logger,
	}

	go serveMetrics(metricsAddr, logger, rc, dbPing)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.OutcomeTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("consumer listening",
		"topic", cfg.OutcomeTopic, "brokers", cfg.KafkaBrokers, "group", cfg.GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka fetch error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		if err := processMessage(ctx, svc, m); err != nil {
			if !errors.Is(err, errBadMessage) {
				// transient failure: leave the offset uncommitted so the
				// message redelivers; appends are idempotent on event id
				ingestErrors.Inc()
				logger.Error("ingest failed, message left for redelivery",
					"offset", m.Offset, "error", err)
				continue
			}
			// poison messages are counted, logged and committed past
			msgsInvalid.Inc()
			logger.Warn("dropping bad message", "offset", m.Offset, "error", err)
		} else {
			eventsIngested.Inc()
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// errBadMessage marks messages that will never ingest successfully; they are
// committed past instead of redelivered forever.
var errBadMessage = errors.New("bad message")

type outcomeIngester interface {
	Ingest(ctx context.Context, ev models.OutcomeEvent) error
}

func processMessage(ctx context.Context, ing outcomeIngester, m kafka.Message) error {
	var ev models.OutcomeEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if err := ing.Ingest(ctx, ev); err != nil {
		if errors.Is(err, reliability.ErrInvalidEvent) {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		return err
	}
	return nil
}

// serveMetrics exposes prometheus metrics plus liveness and readiness.
// Readiness fails while a configured backend is unreachable.
func serveMetrics(addr string, logger *slog.Logger, rc *redis.Client, dbPing func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if rc != nil {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if dbPing != nil {
			if err := dbPing(r.Context()); err != nil {
				http.Error(w, "postgres not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
