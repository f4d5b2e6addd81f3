// Package rates selects the per-mile pickup/destination rates that apply to
// a ride's scheduled time, honoring a profile's time blocks including
// overnight wraparound ranges.
package rates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/fare-engine/internal/models"
)

// ErrInvalidConfig marks a malformed rate profile: unparseable block times,
// a zero-length block or non-positive rates. Callers treat it as fatal for
// the profile, never as retryable.
var ErrInvalidConfig = errors.New("invalid rate config")

// ParseMinuteOfDay parses an "HH:MM" 24h string into a minute-of-day in
// [0,1439].
func ParseMinuteOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidConfig, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: hour in %q out of range", ErrInvalidConfig, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: minute in %q out of range", ErrInvalidConfig, s)
	}
	return h*60 + m, nil
}

// ValidateProfile checks a whole profile the way a profile save should:
// strictly positive rates everywhere and every block (enabled or not)
// parseable with start != end.
func ValidateProfile(p models.RateProfile) error {
	if p.DefaultRate.PickupRate <= 0 || p.DefaultRate.DestinationRate <= 0 {
		return fmt.Errorf("%w: default rates must be strictly positive", ErrInvalidConfig)
	}
	for i, b := range p.TimeBlocks {
		if err := validateBlock(b); err != nil {
			return fmt.Errorf("time block %d (%s): %w", i, b.ID, err)
		}
	}
	return nil
}

func validateBlock(b models.TimeBlock) error {
	start, err := ParseMinuteOfDay(b.Start)
	if err != nil {
		return err
	}
	end, err := ParseMinuteOfDay(b.End)
	if err != nil {
		return err
	}
	if start == end {
		return fmt.Errorf("%w: start == end (%s) is ambiguous", ErrInvalidConfig, b.Start)
	}
	if b.PickupRate <= 0 || b.DestinationRate <= 0 {
		return fmt.Errorf("%w: block rates must be strictly positive", ErrInvalidConfig)
	}
	return nil
}

// Resolve returns the rates in effect at the ride's scheduled time. Blocks
// are tried in slice order and the first enabled match wins; with no match
// the profile default applies and the returned block id is nil.
func Resolve(p models.RateProfile, scheduled time.Time) (models.Rate, *string, error) {
	t := scheduled.Hour()*60 + scheduled.Minute()

	for i, b := range p.TimeBlocks {
		if !b.Enabled {
			continue
		}
		start, err := ParseMinuteOfDay(b.Start)
		if err != nil {
			return models.Rate{}, nil, fmt.Errorf("time block %d (%s): %w", i, b.ID, err)
		}
		end, err := ParseMinuteOfDay(b.End)
		if err != nil {
			return models.Rate{}, nil, fmt.Errorf("time block %d (%s): %w", i, b.ID, err)
		}
		if start == end {
			return models.Rate{}, nil, fmt.Errorf("%w: time block %d (%s) has start == end", ErrInvalidConfig, i, b.ID)
		}
		if !inRange(t, start, end) {
			continue
		}
		if b.PickupRate <= 0 || b.DestinationRate <= 0 {
			return models.Rate{}, nil, fmt.Errorf("%w: time block %d (%s) has non-positive rates", ErrInvalidConfig, i, b.ID)
		}
		id := b.ID
		return models.Rate{PickupRate: b.PickupRate, DestinationRate: b.DestinationRate}, &id, nil
	}

	if p.DefaultRate.PickupRate <= 0 || p.DefaultRate.DestinationRate <= 0 {
		return models.Rate{}, nil, fmt.Errorf("%w: default rates must be strictly positive", ErrInvalidConfig)
	}
	return p.DefaultRate, nil, nil
}

// inRange reports whether minute-of-day t falls in [start,end], where a
// start greater than end wraps past midnight (23:00-02:00 covers 23:30 and
// 00:45 but not 12:00).
func inRange(t, start, end int) bool {
	if start <= end {
		return start <= t && t <= end
	}
	return t >= start || t <= end
}
