package fare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/observability"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/throttle"
)

// Service commits quotes into ride fare agreements and applies guarded
// driver edits to them. The suggested amount captured at commit time stays
// the guardrail anchor for every later edit, so repeated edits cannot ratchet
// the fare away from the quote.
type Service struct {
	Ledger   storage.FareLedger
	Edits    storage.BidEditLog
	Throttle throttle.Limiter
	EditBand float64 // fraction either side of suggested; 0 means DefaultEditBand
	Logger   *slog.Logger
}

// Commit binds a quote to a ride as its fare agreement. The quote total
// becomes both the suggested anchor and the committed amount.
func (s *Service) Commit(ctx context.Context, rideID string, q models.FareQuote) (*models.RideFare, error) {
	if rideID == "" {
		return nil, fmt.Errorf("%w: missing ride id", ErrInvalidInput)
	}
	if q.TotalCents <= 0 {
		return nil, fmt.Errorf("%w: cannot commit a %s fare", ErrInvalidInput, q.TotalCents)
	}
	f := &models.RideFare{
		RideID:         rideID,
		QuoteID:        q.ID,
		SuggestedCents: q.TotalCents,
		CommittedCents: q.TotalCents,
		Status:         models.FareCommitted,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.Ledger.Commit(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the ride's current fare agreement.
func (s *Service) Get(ctx context.Context, rideID string) (*models.RideFare, error) {
	return s.Ledger.Get(ctx, rideID)
}

// Edit applies a driver's edited bid to the committed fare. The guardrail is
// checked before the throttle so an out-of-range amount does not consume a
// window slot.
func (s *Service) Edit(ctx context.Context, rideID string, amount models.Cents, at time.Time) (*models.RideFare, error) {
	cur, err := s.Ledger.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.FareCommitted {
		return nil, storage.ErrFareNotActive
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: edited amount %s", ErrInvalidInput, amount)
	}
	if err := CheckEdit(cur.SuggestedCents, amount, s.editBand()); err != nil {
		observability.FareEditsTotal.WithLabelValues("out_of_range").Inc()
		return nil, err
	}
	if err := s.Throttle.Allow(ctx, rideID, at); err != nil {
		var limited *throttle.RateLimitedError
		if errors.As(err, &limited) {
			observability.FareEditsTotal.WithLabelValues("rate_limited").Inc()
			observability.ThrottleRejections.Inc()
		}
		return nil, err
	}

	updated, err := s.Ledger.SetCommitted(ctx, rideID, amount, at)
	if err != nil {
		return nil, err
	}
	rec := models.BidEditRecord{RideID: rideID, At: at, PriorCents: cur.CommittedCents, NewCents: amount}
	if err := s.Edits.Append(ctx, rec); err != nil {
		s.log().Error("bid edit audit append failed", "ride_id", rideID, "error", err)
	}
	observability.FareEditsTotal.WithLabelValues("applied").Inc()
	s.log().Info("committed fare edited",
		"ride_id", rideID,
		"prior", cur.CommittedCents.String(),
		"committed", updated.CommittedCents.String())
	return updated, nil
}

func (s *Service) log() *slog.Logger { return logging.OrDiscard(s.Logger) }

func (s *Service) editBand() float64 {
	if s.EditBand > 0 {
		return s.EditBand
	}
	return DefaultEditBand
}
