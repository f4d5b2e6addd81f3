// Package storage persists the engine's minimum state: ride fare
// agreements, the append-only bid-edit and outcome-event logs, and driver
// rate profiles. Every store has a memory implementation for tests/local
// runs and a Postgres implementation for real deployments.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/fare-engine/internal/models"
)

var (
	// ErrNotFound is returned for unknown ride, driver or profile ids.
	ErrNotFound = errors.New("not found")
	// ErrFareNotActive is returned when a committed-fare mutation hits a
	// voided agreement; the ride must go through a fresh bid cycle first.
	ErrFareNotActive = errors.New("fare agreement is not active")
)

// FareLedger holds one fare agreement per ride. SuggestedCents never changes
// after commit; CommittedCents moves with accepted edits and approved
// deltas.
type FareLedger interface {
	// Commit opens (or replaces) the ride's fare agreement.
	Commit(ctx context.Context, f *models.RideFare) error
	Get(ctx context.Context, rideID string) (*models.RideFare, error)
	// SetCommitted replaces the committed amount (bid edit).
	SetCommitted(ctx context.Context, rideID string, amount models.Cents, at time.Time) (*models.RideFare, error)
	// ApplyDelta atomically adds a signed amount to the committed fare.
	ApplyDelta(ctx context.Context, rideID string, delta models.Cents, at time.Time) (*models.RideFare, error)
	// Void marks the agreement reopened; further mutations fail until a new
	// commit.
	Void(ctx context.Context, rideID string, at time.Time) (*models.RideFare, error)
}

// BidEditLog is the append-only record of accepted fare edits.
type BidEditLog interface {
	Append(ctx context.Context, rec models.BidEditRecord) error
	ListByRide(ctx context.Context, rideID string) ([]models.BidEditRecord, error)
}

// EventLog is the append-only ride-outcome log the reliability scorer reads.
// Events are immutable; windowed reads give the scorer a consistent
// snapshot.
type EventLog interface {
	// Append stores an event. Appends are idempotent on the event ID so
	// redelivered stream messages do not double-count.
	Append(ctx context.Context, ev models.OutcomeEvent) error
	// ListByDriver returns events with from < occurredAt <= to in
	// chronological order.
	ListByDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.OutcomeEvent, error)
}

// ProfileStore holds driver rate profiles. Writes happen through the
// internal upsert endpoint after validation; the engine itself only reads.
type ProfileStore interface {
	Put(ctx context.Context, p models.RateProfile) error
	Get(ctx context.Context, driverID string) (models.RateProfile, error)
}
