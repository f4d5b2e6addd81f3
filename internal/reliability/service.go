package reliability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/observability"
	"github.com/example/fare-engine/internal/storage"
)

// ErrInvalidEvent rejects outcome events with an unknown type or missing
// driver.
var ErrInvalidEvent = errors.New("invalid outcome event")

// DefaultWindow is the trailing slice of history a score is computed over.
const DefaultWindow = 90 * 24 * time.Hour

// DefaultCooldown is how long dispatch holds off a driver after a
// non-exempt cancellation.
const DefaultCooldown = 120 * time.Second

// Service ingests ride-outcome events and serves scores and cooldown state
// computed from them.
type Service struct {
	Events    storage.EventLog
	Cooldowns CooldownStore
	Cache     ScoreCache // optional
	Scorer    Scorer
	Window    time.Duration
	Cooldown  time.Duration
	Logger    *slog.Logger
}

// Ingest validates and appends one outcome event. A non-exempt cancellation
// also starts the dispatch cooldown, anchored at the event's occurrence
// time so replays never extend a hold.
func (s *Service) Ingest(ctx context.Context, ev models.OutcomeEvent) error {
	if ev.DriverID == "" {
		return fmt.Errorf("%w: missing driver id", ErrInvalidEvent)
	}
	switch ev.Type {
	case models.OutcomeAwarded, models.OutcomeAccepted, models.OutcomeCancelled,
		models.OutcomePickup, models.OutcomeBidHonored:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if err := s.Events.Append(ctx, ev); err != nil {
		return err
	}
	observability.OutcomeEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.Type == models.OutcomeCancelled {
		reason, known := models.ClassifyCancel(ev.CancelCode)
		if !reason.Exempt {
			until := ev.OccurredAt.Add(s.cooldown())
			if err := s.Cooldowns.Start(ctx, ev.DriverID, until); err != nil {
				return err
			}
			observability.CooldownsStarted.Inc()
			s.log().Info("cooldown started",
				"driver_id", ev.DriverID,
				"ride_id", ev.RideID,
				"cancel_code", string(ev.CancelCode),
				"known_code", known,
				"until", until)
		}
	}
	return nil
}

// Score returns the driver's current score, recomputing from the event log
// on cache miss.
func (s *Service) Score(ctx context.Context, driverID string) (models.ReliabilityScore, error) {
	if s.Cache != nil {
		if sc, ok := s.Cache.Get(ctx, driverID); ok {
			return sc, nil
		}
	}
	sc, err := s.ScoreAt(ctx, driverID, time.Now().UTC())
	if err != nil {
		return models.ReliabilityScore{}, err
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, driverID, sc)
	}
	return sc, nil
}

// ScoreAt recomputes the score from events in (asOf-window, asOf]. The
// bounded read gives a consistent snapshot even while ingestion continues.
func (s *Service) ScoreAt(ctx context.Context, driverID string, asOf time.Time) (models.ReliabilityScore, error) {
	events, err := s.Events.ListByDriver(ctx, driverID, asOf.Add(-s.window()), asOf)
	if err != nil {
		return models.ReliabilityScore{}, err
	}
	sc, err := s.Scorer.Score(Aggregate(driverID, events), asOf)
	if err != nil {
		return models.ReliabilityScore{}, err
	}
	observability.ScoresComputed.Inc()
	return sc, nil
}

// CooldownState reports whether dispatch should hold offers to the driver.
func (s *Service) CooldownState(ctx context.Context, driverID string) (models.CooldownState, error) {
	return s.Cooldowns.Get(ctx, driverID)
}

func (s *Service) log() *slog.Logger { return logging.OrDiscard(s.Logger) }

func (s *Service) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultWindow
}

func (s *Service) cooldown() time.Duration {
	if s.Cooldown > 0 {
		return s.Cooldown
	}
	return DefaultCooldown
}

func newEventID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "ev_" + hex.EncodeToString(b)
}
