// Package payments maintains Stripe settlement holds mirroring the engine's
// fare agreements: a manual-capture PaymentIntent opened at commit, adjusted
// on approved deltas, canceled on escalation, captured on completion. Engine
// decisions never depend on these calls; they run after the decision is
// durable and failures are logged by the caller.
package payments

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
)

// intentAPI is the slice of the Stripe client the service uses; tests swap
// in a fake.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string) error
	Cancel(id string) error
}

type stripeAPI struct{}

func (stripeAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeAPI) Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Update(id, params)
}

func (stripeAPI) Capture(id string) error {
	_, err := paymentintent.Capture(id, nil)
	return err
}

func (stripeAPI) Cancel(id string) error {
	_, err := paymentintent.Cancel(id, nil)
	return err
}

// Service tracks one hold per ride.
type Service struct {
	API      intentAPI
	Holds    HoldStore
	Currency string // ISO code, defaults to usd
	Logger   *slog.Logger
}

// NewService sets the global Stripe key the way stripe-go expects and wires
// the real API.
func NewService(apiKey string, holds HoldStore) *Service {
	stripe.Key = apiKey
	return &Service{API: stripeAPI{}, Holds: holds}
}

func (s *Service) currency() string {
	if s.Currency != "" {
		return s.Currency
	}
	return "usd"
}

// OpenHold creates a manual-capture PaymentIntent for the committed fare and
// remembers it under the ride.
func (s *Service) OpenHold(ctx context.Context, rideID string, amount models.Cents, customerID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("hold amount %s", amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(amount)),
		Currency: stripe.String(s.currency()),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := s.API.New(params)
	if err != nil {
		return "", err
	}
	if err := s.Holds.Set(ctx, rideID, pi.ID); err != nil {
		return "", err
	}
	logging.OrDiscard(s.Logger).Info("settlement hold opened", "ride_id", rideID, "intent_id", pi.ID, "amount", amount.String())
	return pi.ID, nil
}

// AdjustHold moves the held amount to the ride's new committed fare. Rides
// without a hold are a no-op.
func (s *Service) AdjustHold(ctx context.Context, rideID string, amount models.Cents) error {
	id, err := s.Holds.Get(ctx, rideID)
	if err != nil || id == "" {
		return err
	}
	_, err = s.API.Update(id, &stripe.PaymentIntentParams{Amount: stripe.Int64(int64(amount))})
	return err
}

// CancelHold releases the ride's hold, if any.
func (s *Service) CancelHold(ctx context.Context, rideID string) error {
	id, err := s.Holds.Get(ctx, rideID)
	if err != nil || id == "" {
		return err
	}
	if err := s.API.Cancel(id); err != nil {
		return err
	}
	return s.Holds.Delete(ctx, rideID)
}

// CaptureHold finalizes the ride's hold after completion.
func (s *Service) CaptureHold(ctx context.Context, rideID string) error {
	id, err := s.Holds.Get(ctx, rideID)
	if err != nil || id == "" {
		return err
	}
	if err := s.API.Capture(id); err != nil {
		return err
	}
	return s.Holds.Delete(ctx, rideID)
}
