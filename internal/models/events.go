package models

import "time"

// OutcomeType enumerates the ride-lifecycle outcomes the reliability scorer
// consumes.
type OutcomeType string

const (
	OutcomeAwarded    OutcomeType = "awarded"
	OutcomeAccepted   OutcomeType = "accepted"
	OutcomeCancelled  OutcomeType = "cancelled"
	OutcomePickup     OutcomeType = "pickup"
	OutcomeBidHonored OutcomeType = "bidHonored"
)

// OutcomeEvent is one append-only entry in a driver's outcome log. Events are
// never mutated; metrics and scores are recomputed from them.
type OutcomeEvent struct {
	ID         string      `json:"id,omitempty"`
	DriverID   string      `json:"driver_id"`
	RideID     string      `json:"ride_id,omitempty"`
	Type       OutcomeType `json:"type"`
	CancelCode CancelCode  `json:"cancel_code,omitempty"` // cancelled events only
	OnTime     bool        `json:"on_time,omitempty"`     // pickup events only
	OccurredAt time.Time   `json:"occurred_at"`
}

// CancelCode identifies a cancellation reason.
type CancelCode string

const (
	CancelRiderNoShow       CancelCode = "RIDER_NO_SHOW"
	CancelRiderCanceled     CancelCode = "RIDER_CANCELED"
	CancelPlatformFault     CancelCode = "PLATFORM_FAULT"
	CancelVerifiedEmergency CancelCode = "VERIFIED_EMERGENCY"
	CancelVehicleBreakdown  CancelCode = "VEHICLE_BREAKDOWN"
	CancelDriverCanceled    CancelCode = "DRIVER_CANCELED"
	CancelDriverNoShow      CancelCode = "DRIVER_NO_SHOW"
)

// CancelReason is a registry entry for one cancellation code.
type CancelReason struct {
	Code               CancelCode `json:"code"`
	Exempt             bool       `json:"exempt"`
	RequiresValidation bool       `json:"requires_validation"`
}

// cancelRegistry is the closed set of known cancellation codes. Codes absent
// from the registry are treated as non-exempt, so an invented code can never
// shield a driver's cancellation rate.
var cancelRegistry = map[CancelCode]CancelReason{
	CancelRiderNoShow:       {Code: CancelRiderNoShow, Exempt: true, RequiresValidation: false},
	CancelRiderCanceled:     {Code: CancelRiderCanceled, Exempt: true, RequiresValidation: false},
	CancelPlatformFault:     {Code: CancelPlatformFault, Exempt: true, RequiresValidation: false},
	CancelVerifiedEmergency: {Code: CancelVerifiedEmergency, Exempt: true, RequiresValidation: true},
	CancelVehicleBreakdown:  {Code: CancelVehicleBreakdown, Exempt: true, RequiresValidation: true},
	CancelDriverCanceled:    {Code: CancelDriverCanceled, Exempt: false, RequiresValidation: false},
	CancelDriverNoShow:      {Code: CancelDriverNoShow, Exempt: false, RequiresValidation: false},
}

// ClassifyCancel looks a code up in the registry. Unknown codes fail closed:
// the returned reason is non-exempt and known is false.
func ClassifyCancel(code CancelCode) (reason CancelReason, known bool) {
	if r, ok := cancelRegistry[code]; ok {
		return r, true
	}
	return CancelReason{Code: code, Exempt: false, RequiresValidation: false}, false
}

// KnownCancelReasons returns the registry entries in a stable order for
// inspection endpoints.
func KnownCancelReasons() []CancelReason {
	out := []CancelReason{
		cancelRegistry[CancelRiderNoShow],
		cancelRegistry[CancelRiderCanceled],
		cancelRegistry[CancelPlatformFault],
		cancelRegistry[CancelVerifiedEmergency],
		cancelRegistry[CancelVehicleBreakdown],
		cancelRegistry[CancelDriverCanceled],
		cancelRegistry[CancelDriverNoShow],
	}
	return out
}
