package models

import "time"

// Rate is a pair of per-mile rates in dollars: one applied to the pickup leg
// (driving to the rider) and one to the ride leg (rider on board).
type Rate struct {
	PickupRate      float64 `json:"pickup_rate"`
	DestinationRate float64 `json:"destination_rate"`
}

// TimeBlock is a named time-of-day interval with its own rates. Start and End
// are "HH:MM" 24h strings; a block whose Start is later than its End wraps
// past midnight. Slice order in the profile is the tie-break priority.
type TimeBlock struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Start           string  `json:"start"`
	End             string  `json:"end"`
	PickupRate      float64 `json:"pickup_rate"`
	DestinationRate float64 `json:"destination_rate"`
	Enabled         bool    `json:"enabled"`
}

// RateProfile is a driver's configured pricing: default rates plus an ordered
// set of time blocks.
type RateProfile struct {
	DriverID    string      `json:"driver_id,omitempty"`
	DefaultRate Rate        `json:"default_rate"`
	TimeBlocks  []TimeBlock `json:"time_blocks,omitempty"`
}

// FareQuote is one suggested fare. Quotes are immutable: a re-quote produces
// a new record and supersedes, never mutates, the old one.
type FareQuote struct {
	ID                 string    `json:"id"`
	PickupDistanceMi   float64   `json:"pickup_distance_mi"`
	RideDistanceMi     float64   `json:"ride_distance_mi"`
	PickupRate         float64   `json:"pickup_rate"`
	DestinationRate    float64   `json:"destination_rate"`
	AppliedTimeBlockID *string   `json:"applied_time_block_id"` // nil when the default rate applied
	TotalCents         Cents     `json:"total_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

// FareStatus tracks the lifecycle of a ride's fare agreement.
type FareStatus string

const (
	FareCommitted FareStatus = "COMMITTED"
	FareVoided    FareStatus = "VOIDED" // agreement reopened via escalation
)

// RideFare is the ledger row for a ride's fare. SuggestedCents is the anchor
// the bid-edit guardrail is evaluated against; CommittedCents moves with
// accepted edits and approved deltas.
type RideFare struct {
	RideID         string     `json:"ride_id"`
	QuoteID        string     `json:"quote_id,omitempty"`
	SuggestedCents Cents      `json:"suggested_cents"`
	CommittedCents Cents      `json:"committed_cents"`
	Status         FareStatus `json:"status"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BidEditRecord is one accepted fare revision. The log is append-only and is
// what the edit throttle window is evaluated over.
type BidEditRecord struct {
	RideID     string    `json:"ride_id"`
	At         time.Time `json:"at"`
	PriorCents Cents     `json:"prior_cents"`
	NewCents   Cents     `json:"new_cents"`
}
