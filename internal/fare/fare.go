// Package fare turns resolved rates and trip distances into suggested fares.
package fare

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/rates"
)

// ErrInvalidInput marks unusable calculator input: negative or non-finite
// distances, non-positive or non-finite rates. The caller must re-supply
// valid data; retrying unchanged input reproduces the error.
var ErrInvalidInput = errors.New("invalid fare input")

// Calculate computes a trip total in cents:
//
//	round2(pickupMi*pickupRate + rideMi*destinationRate)
//
// rounded half-up to the cent. It is pure and monotonically non-decreasing
// in every argument.
func Calculate(pickupMi, rideMi float64, rate models.Rate) (models.Cents, error) {
	if !isFiniteNonNegative(pickupMi) {
		return 0, fmt.Errorf("%w: pickup distance %v", ErrInvalidInput, pickupMi)
	}
	if !isFiniteNonNegative(rideMi) {
		return 0, fmt.Errorf("%w: ride distance %v", ErrInvalidInput, rideMi)
	}
	if !isFinitePositive(rate.PickupRate) {
		return 0, fmt.Errorf("%w: pickup rate %v", ErrInvalidInput, rate.PickupRate)
	}
	if !isFinitePositive(rate.DestinationRate) {
		return 0, fmt.Errorf("%w: destination rate %v", ErrInvalidInput, rate.DestinationRate)
	}
	total := pickupMi*rate.PickupRate + rideMi*rate.DestinationRate
	return models.CentsFromDollars(total), nil
}

// ResolveFare is the quote operation: time blocks resolved against the
// ride's scheduled time (not wall clock), then the calculator applied to the
// trip distances. The returned quote is immutable; re-quoting produces a new
// one.
func ResolveFare(p models.RateProfile, scheduled time.Time, pickupMi, rideMi float64) (models.FareQuote, error) {
	rate, blockID, err := rates.Resolve(p, scheduled)
	if err != nil {
		return models.FareQuote{}, err
	}
	total, err := Calculate(pickupMi, rideMi, rate)
	if err != nil {
		return models.FareQuote{}, err
	}
	return models.FareQuote{
		ID:                 newQuoteID(),
		PickupDistanceMi:   pickupMi,
		RideDistanceMi:     rideMi,
		PickupRate:         rate.PickupRate,
		DestinationRate:    rate.DestinationRate,
		AppliedTimeBlockID: blockID,
		TotalCents:         total,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

func isFiniteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func newQuoteID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "q_" + hex.EncodeToString(b)
}
