package models

import "time"

// DeltaKind distinguishes a stop added to an in-progress ride from one
// removed.
type DeltaKind string

const (
	AddStop    DeltaKind = "ADD_STOP"
	RemoveStop DeltaKind = "REMOVE_STOP"
)

// DeltaState is the renegotiation state machine. Every request starts
// Proposed and is resolved into exactly one terminal state.
type DeltaState string

const (
	DeltaProposed  DeltaState = "PROPOSED"
	DeltaApproved  DeltaState = "APPROVED"
	DeltaDeclined  DeltaState = "DECLINED"
	DeltaEscalated DeltaState = "ESCALATED_TO_NEW_BID"
)

// DeltaAction is a driver's resolution choice for a proposed delta.
type DeltaAction string

const (
	ActionApprove  DeltaAction = "APPROVE"
	ActionDecline  DeltaAction = "DECLINE"
	ActionEscalate DeltaAction = "ESCALATE_TO_NEW_BID"
)

// DeltaCalc carries the externally computed route difference for a stop
// change. Values may be negative for a removed stop.
type DeltaCalc struct {
	DeltaMiles       float64 `json:"delta_miles"`
	DeltaMinutes     float64 `json:"delta_minutes"`
	DeltaWaitMinutes float64 `json:"delta_wait_minutes"`
}

// DeltaRequest is one mid-ride fare renegotiation. PercentChange and
// OriginalFareCents are snapshotted at proposal time; the request is consumed
// exactly once.
type DeltaRequest struct {
	ID                 string     `json:"id"`
	RideID             string     `json:"ride_id"`
	Kind               DeltaKind  `json:"kind"`
	SuggestedCents     Cents      `json:"suggested_cents"` // signed: >0 AddStop, <0 RemoveStop
	Calc               DeltaCalc  `json:"calc"`
	OriginalFareCents  Cents      `json:"original_fare_cents"`
	PercentChange      float64    `json:"percent_change"`
	AutoAcceptEligible bool       `json:"driver_auto_accept_eligible"`
	State              DeltaState `json:"state"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CommittedCents     *Cents     `json:"committed_cents,omitempty"` // signed amount applied on approval
}

// DeltaDecision is the event emitted when a delta reaches a terminal state.
type DeltaDecision struct {
	DeltaID        string     `json:"delta_id"`
	RideID         string     `json:"ride_id"`
	Kind           DeltaKind  `json:"kind"`
	State          DeltaState `json:"state"`
	CommittedCents *Cents     `json:"committed_cents,omitempty"`
	NewFareCents   *Cents     `json:"new_fare_cents,omitempty"`
	DecidedAt      time.Time  `json:"decided_at"`
}
