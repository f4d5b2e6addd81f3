package fare

import (
	"fmt"
	"math"

	"github.com/example/fare-engine/internal/models"
)

// DefaultEditBand is the fraction either side of a suggested amount a driver
// may edit to without triggering full renegotiation.
const DefaultEditBand = 0.20

// OutOfRangeError reports an edited amount outside the guardrail. It carries
// the allowed bounds so the caller can re-prompt with them.
type OutOfRangeError struct {
	Min models.Cents
	Max models.Cents
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("amount outside allowed range [%s, %s]", e.Min, e.Max)
}

// EditBounds returns the integer-cent range a driver may edit the suggested
// amount to. Every amount a in the returned range satisfies
// (1-band)*|suggested| <= a <= (1+band)*|suggested| exactly, so the bounds
// never admit an amount the real-valued guardrail would reject.
func EditBounds(suggested models.Cents, band float64) (models.Cents, models.Cents) {
	abs := float64(suggested.Abs())
	lo := models.Cents(math.Ceil(abs*(1-band) - 1e-9))
	hi := models.Cents(math.Floor(abs*(1+band) + 1e-9))
	return lo, hi
}

// CheckEdit validates an edited amount's magnitude against the guardrail
// around the suggested amount.
func CheckEdit(suggested, amount models.Cents, band float64) error {
	lo, hi := EditBounds(suggested, band)
	if a := amount.Abs(); a < lo || a > hi {
		return &OutOfRangeError{Min: lo, Max: hi}
	}
	return nil
}
