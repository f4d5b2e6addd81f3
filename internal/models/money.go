package models

import (
	"fmt"
	"math"
)

// Cents is a money amount in integer cents. Fares, deltas and guardrail
// bounds are all carried in cents so that comparisons and ledger arithmetic
// stay exact; floats only appear at the rate*distance boundary.
type Cents int64

// CentsFromDollars converts a dollar amount to cents, rounding half-up on
// the magnitude (11.745 -> 1175, -3.005 -> -301).
func CentsFromDollars(d float64) Cents {
	if d < 0 {
		return -Cents(math.Floor(-d*100 + 0.5))
	}
	return Cents(math.Floor(d*100 + 0.5))
}

func (c Cents) Dollars() float64 { return float64(c) / 100 }

func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

func (c Cents) String() string { return fmt.Sprintf("%.2f", c.Dollars()) }
