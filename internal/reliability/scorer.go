package reliability

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/fare-engine/internal/models"
)

// ErrInsufficientData marks a driver whose awarded history is too small to
// score. It is a defined outcome, not a failure state: callers must surface
// "unscored" rather than a zero score.
var ErrInsufficientData = errors.New("insufficient history to score")

// ErrInvalidConfig rejects weight sets that are negative or do not sum to 1.
var ErrInvalidConfig = errors.New("invalid scorer config")

// Weights splits the composite score across the four behavior ratios.
type Weights struct {
	Acceptance   float64
	Cancellation float64
	OnTime       float64
	BidHonoring  float64
}

// DefaultWeights is the production weighting of the composite.
var DefaultWeights = Weights{Acceptance: 0.30, Cancellation: 0.30, OnTime: 0.25, BidHonoring: 0.15}

// MinSample is the default minimum awarded count before a score is defined.
const MinSample = 20

const weightTolerance = 1e-9

func (w Weights) sum() float64 {
	return w.Acceptance + w.Cancellation + w.OnTime + w.BidHonoring
}

// Validate fails unless every weight is a finite non-negative number and the
// four sum to 1 within tolerance.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Acceptance, w.Cancellation, w.OnTime, w.BidHonoring} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: weight %v out of range", ErrInvalidConfig, v)
		}
	}
	if s := w.sum(); math.Abs(s-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1.0", ErrInvalidConfig, s)
	}
	return nil
}

// Scorer turns a metrics aggregate into a banded 0-100 score. The zero value
// uses DefaultWeights and MinSample.
type Scorer struct {
	Weights    Weights
	MinAwarded int
}

// Score computes the weighted composite for one driver.
//
// Ratios are clamped to [0,1] before weighting. A ratio whose denominator is
// zero carries no evidence and contributes nothing; it never defaults to a
// perfect 1, so a thin history cannot inflate the score.
func (s Scorer) Score(m models.ReliabilityMetrics, at time.Time) (models.ReliabilityScore, error) {
	min := s.MinAwarded
	if min <= 0 {
		min = MinSample
	}
	if m.AwardedCount < min {
		return models.ReliabilityScore{}, ErrInsufficientData
	}
	w := s.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}

	ar := float64(m.AcceptedCount) / float64(m.AwardedCount)
	cr := 1 - float64(m.DriverCancelCount)/float64(m.AcceptedCount)
	ota := float64(m.OnTimePickupCount) / float64(m.TotalPickupCount)
	bh := float64(m.HonoredBidCount) / float64(m.AwardedCount)

	composite := 100 * (w.Acceptance*clamp01(ar) +
		w.Cancellation*clamp01(cr) +
		w.OnTime*clamp01(ota) +
		w.BidHonoring*clamp01(bh))
	value := int(math.Round(composite))

	return models.ReliabilityScore{
		DriverID:   m.DriverID,
		Value:      value,
		Band:       bandFor(value),
		Metrics:    m,
		ComputedAt: at,
	}, nil
}

// clamp01 bounds a ratio to [0,1]. Non-finite ratios (zero denominators,
// corrupt aggregates) score zero.
func clamp01(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func bandFor(value int) models.ScoreBand {
	switch {
	case value >= 90:
		return models.BandExcellent
	case value >= 75:
		return models.BandGood
	case value >= 60:
		return models.BandWatch
	default:
		return models.BandAtRisk
	}
}
