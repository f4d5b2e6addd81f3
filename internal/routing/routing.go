// Package routing is the engine's contract with the external distance
// service. The engine never computes route distances itself: quotes take
// miles as input, and stop-change deltas arrive precomputed. This package
// exists for callers that hold coordinates instead of distances and need the
// provider consulted on their behalf.
package routing

import (
	"context"
	"fmt"

	"github.com/example/fare-engine/internal/models"
)

// Coord is a WGS84 point.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Route is the provider's answer for a single leg.
type Route struct {
	Miles   float64
	Minutes float64
}

// StopChangeRequest asks the provider to price a stop edit on an in-progress
// ride. Before and After are the full ordered stop lists.
type StopChangeRequest struct {
	RideID string           `json:"ride_id"`
	Kind   models.DeltaKind `json:"kind"`
	Before []Coord          `json:"before"`
	After  []Coord          `json:"after"`
}

// StopChange is the provider's computed route delta plus its suggested
// signed fare adjustment.
type StopChange struct {
	Calc           models.DeltaCalc
	SuggestedCents models.Cents
}

// Provider is implemented by the external routing service client.
type Provider interface {
	Route(ctx context.Context, from, to Coord) (Route, error)
	StopChange(ctx context.Context, req StopChangeRequest) (StopChange, error)
}

func coordKey(a, b Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}
