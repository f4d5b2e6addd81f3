package models

import "time"

// ReliabilityMetrics is the 90-day rolling aggregate a score is computed
// from. Counters are derived from the outcome event log, never mutated in
// place.
type ReliabilityMetrics struct {
	DriverID          string `json:"driver_id"`
	AwardedCount      int    `json:"awarded_count"`
	AcceptedCount     int    `json:"accepted_count"`
	DriverCancelCount int    `json:"driver_cancel_count"` // non-exempt only
	OnTimePickupCount int    `json:"on_time_pickup_count"`
	TotalPickupCount  int    `json:"total_pickup_count"`
	HonoredBidCount   int    `json:"honored_bid_count"`
}

// ScoreBand buckets a reliability score for dispatch policy.
type ScoreBand string

const (
	BandExcellent ScoreBand = "EXCELLENT" // 90..100
	BandGood      ScoreBand = "GOOD"      // 75..89
	BandWatch     ScoreBand = "WATCH"     // 60..74
	BandAtRisk    ScoreBand = "AT_RISK"   // 0..59
)

// ReliabilityScore is a computed 0-100 composite. It is a cache of the event
// log, not a source of truth.
type ReliabilityScore struct {
	DriverID   string             `json:"driver_id"`
	Value      int                `json:"value"`
	Band       ScoreBand          `json:"band"`
	Metrics    ReliabilityMetrics `json:"metrics"`
	ComputedAt time.Time          `json:"computed_at"`
}

// CooldownState reports whether a driver is inside the post-cancellation
// dispatch cooldown. Until is zero when inactive.
type CooldownState struct {
	DriverID string    `json:"driver_id"`
	Active   bool      `json:"active"`
	Until    time.Time `json:"until,omitempty"`
}
