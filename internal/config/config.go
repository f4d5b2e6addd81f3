// Package config loads the engine's tunables from the environment. Parse
// failures accumulate and load returns them joined, so one run reports every
// bad variable. A weight set that does not sum to 1 is fatal here, before
// any scoring happens.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/fare-engine/internal/reliability"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers  []string
	OutcomeTopic  string
	DecisionTopic string

	PGDSN         string
	MigrationsDir string
	RunMigrations bool

	RoutingURL      string
	RoutingCacheTTL time.Duration

	DecisionWebhookURL string
	StripeAPIKey       string

	// bid-edit throttle
	EditWindow time.Duration
	EditLimit  int

	// guardrail and escalation
	EditBand       float64
	EscalateMinPct float64

	// reliability
	Weights       reliability.Weights
	ScoreWindow   time.Duration
	MinAwarded    int
	Cooldown      time.Duration
	ScoreCacheTTL time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		OutcomeTopic:    "ride-outcomes",
		DecisionTopic:   "fare-decisions",
		MigrationsDir:   "migrations",
		RoutingCacheTTL: time.Minute,
		EditWindow:      120 * time.Second,
		EditLimit:       3,
		EditBand:        0.20,
		EscalateMinPct:  20,
		Weights:         reliability.DefaultWeights,
		ScoreWindow:     90 * 24 * time.Hour,
		MinAwarded:      reliability.MinSample,
		Cooldown:        120 * time.Second,
		ScoreCacheTTL:   30 * time.Second,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.OutcomeTopic, "KAFKA_OUTCOME_TOPIC")
	setStringFromEnv(&cfg.DecisionTopic, "KAFKA_DECISION_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RoutingURL = strings.TrimSpace(os.Getenv("ROUTING_URL"))
	setDurationFromEnv(&cfg.RoutingCacheTTL, "ROUTING_CACHE_TTL", &errs)

	cfg.DecisionWebhookURL = strings.TrimSpace(os.Getenv("DECISION_WEBHOOK_URL"))
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	setDurationFromEnv(&cfg.EditWindow, "EDIT_WINDOW", &errs)
	setIntFromEnv(&cfg.EditLimit, "EDIT_LIMIT", &errs)
	setFloatFromEnv(&cfg.EditBand, "EDIT_BAND", &errs)
	setFloatFromEnv(&cfg.EscalateMinPct, "ESCALATE_MIN_PCT", &errs)

	setFloatFromEnv(&cfg.Weights.Acceptance, "SCORE_WEIGHT_ACCEPTANCE", &errs)
	setFloatFromEnv(&cfg.Weights.Cancellation, "SCORE_WEIGHT_CANCELLATION", &errs)
	setFloatFromEnv(&cfg.Weights.OnTime, "SCORE_WEIGHT_ON_TIME", &errs)
	setFloatFromEnv(&cfg.Weights.BidHonoring, "SCORE_WEIGHT_BID_HONORING", &errs)
	setDurationFromEnv(&cfg.ScoreWindow, "SCORE_WINDOW", &errs)
	setIntFromEnv(&cfg.MinAwarded, "MIN_AWARDED", &errs)
	setDurationFromEnv(&cfg.Cooldown, "CANCEL_COOLDOWN", &errs)
	setDurationFromEnv(&cfg.ScoreCacheTTL, "SCORE_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if err := cfg.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.EditWindow <= 0 {
		errs = append(errs, fmt.Errorf("EDIT_WINDOW must be > 0"))
	}
	if cfg.EditLimit <= 0 {
		errs = append(errs, fmt.Errorf("EDIT_LIMIT must be > 0"))
	}
	if cfg.EditBand <= 0 || cfg.EditBand >= 1 {
		errs = append(errs, fmt.Errorf("EDIT_BAND must be in (0, 1)"))
	}
	if cfg.EscalateMinPct <= 0 {
		errs = append(errs, fmt.Errorf("ESCALATE_MIN_PCT must be > 0"))
	}
	if cfg.ScoreWindow <= 0 {
		errs = append(errs, fmt.Errorf("SCORE_WINDOW must be > 0"))
	}
	if cfg.MinAwarded <= 0 {
		errs = append(errs, fmt.Errorf("MIN_AWARDED must be > 0"))
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("CANCEL_COOLDOWN must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig captures the outcome-event consumer's parameters.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	OutcomeTopic string
	GroupID      string

	RedisAddr     string
	RedisPassword string
	PGDSN         string

	Cooldown    time.Duration
	ScoreWindow time.Duration

	LogLevel string
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		OutcomeTopic: "ride-outcomes",
		GroupID:      "fare-engine-consumer",
		Cooldown:     120 * time.Second,
		ScoreWindow:  90 * 24 * time.Hour,
		LogLevel:     "info",
	}
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.OutcomeTopic, "KAFKA_OUTCOME_TOPIC")
	setStringFromEnv(&cfg.GroupID, "KAFKA_GROUP")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.Cooldown, "CANCEL_COOLDOWN", &errs)
	setDurationFromEnv(&cfg.ScoreWindow, "SCORE_WINDOW", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("CANCEL_COOLDOWN must be > 0"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
