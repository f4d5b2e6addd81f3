package reliability

import "github.com/example/fare-engine/internal/models"

// Aggregate folds an event window into the per-driver counters the scorer
// consumes. The fold is pure: rerunning it over the same snapshot always
// yields the same aggregate, so scores stay recomputable and auditable.
//
// Cancellations count against the driver only when their reason code is
// non-exempt; unknown codes classify as non-exempt.
func Aggregate(driverID string, events []models.OutcomeEvent) models.ReliabilityMetrics {
	m := models.ReliabilityMetrics{DriverID: driverID}
	for _, ev := range events {
		switch ev.Type {
		case models.OutcomeAwarded:
			m.AwardedCount++
		case models.OutcomeAccepted:
			m.AcceptedCount++
		case models.OutcomeCancelled:
			if reason, _ := models.ClassifyCancel(ev.CancelCode); !reason.Exempt {
				m.DriverCancelCount++
			}
		case models.OutcomePickup:
			m.TotalPickupCount++
			if ev.OnTime {
				m.OnTimePickupCount++
			}
		case models.OutcomeBidHonored:
			m.HonoredBidCount++
		}
	}
	return m
}
