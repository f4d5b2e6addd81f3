package models

// EngineEvent frames every engine emission: messages on the decisions topic
// and pushes on the per-ride websocket stream share this envelope.
type EngineEvent struct {
	Type    string `json:"type"`
	RideID  string `json:"ride_id"`
	Payload any    `json:"payload"`
}

const (
	EngineEventFareCommitted = "fare_committed"
	EngineEventFareEdited    = "fare_edited"
	EngineEventDeltaDecision = "delta_decision"
)
