// Package delta implements mid-ride fare renegotiation for stop changes.
//
// A rider editing stops on an in-progress ride produces an externally
// computed route delta with a suggested signed fare adjustment. The engine
// turns that into a proposed request the driver resolves exactly once:
// approve (optionally editing the amount within the guardrail), decline, or
// escalate the whole fare back to a fresh bid cycle.
package delta

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/observability"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/throttle"
)

// ErrInvalidState rejects actions on a request that already reached a
// terminal state. Each request is consumed exactly once.
var ErrInvalidState = errors.New("delta request already resolved")

// ErrEscalationNotAllowed rejects escalation of a change small enough to
// settle inside the guardrail.
var ErrEscalationNotAllowed = errors.New("fare change too small to escalate")

// DefaultEscalateMinPct is the percent change above which a driver may
// escalate to a new bid instead of settling within the guardrail.
const DefaultEscalateMinPct = 20.0

// DecisionPublisher hands terminal decisions to the event pipeline.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d models.DeltaDecision) error
}

// DecisionStream pushes terminal decisions to live ride subscribers.
type DecisionStream interface {
	StreamDecision(d models.DeltaDecision)
}

// Settlement mirrors fare changes onto the ride's payment hold.
type Settlement interface {
	AdjustHold(ctx context.Context, rideID string, amount models.Cents) error
	CancelHold(ctx context.Context, rideID string) error
}

// Engine runs the renegotiation state machine. Resolutions for the same ride
// serialize on a per-ride lock; the store's conditional transition backs the
// exactly-once guarantee.
type Engine struct {
	Requests RequestStore
	Ledger   storage.FareLedger
	Edits    storage.BidEditLog
	Throttle throttle.Limiter

	EditBand       float64 // guardrail fraction; 0 means fare.DefaultEditBand
	EscalateMinPct float64 // 0 means DefaultEscalateMinPct

	Publisher  DecisionPublisher // optional
	Stream     DecisionStream    // optional
	Settlement Settlement        // optional
	Logger     *slog.Logger

	mu    sync.Mutex
	rides map[string]*sync.Mutex
}

// Proposal is the externally computed route delta for a stop change.
type Proposal struct {
	RideID         string
	Kind           models.DeltaKind
	SuggestedCents models.Cents
	Calc           models.DeltaCalc
	// AutoAcceptPct is the driver's configured auto-accept threshold, when
	// set. Eligibility is advisory; approval stays explicit.
	AutoAcceptPct *float64
}

// Propose validates a route delta against the ride's committed fare and
// records it as a proposed request. The percent change and the fare anchor
// are snapshotted here and never recomputed.
func (e *Engine) Propose(ctx context.Context, p Proposal) (*models.DeltaRequest, error) {
	if p.RideID == "" {
		return nil, fmt.Errorf("%w: missing ride id", fare.ErrInvalidInput)
	}
	switch p.Kind {
	case models.AddStop:
		if p.SuggestedCents <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive suggested delta, got %s", fare.ErrInvalidInput, p.Kind, p.SuggestedCents)
		}
	case models.RemoveStop:
		if p.SuggestedCents >= 0 {
			return nil, fmt.Errorf("%w: %s requires a negative suggested delta, got %s", fare.ErrInvalidInput, p.Kind, p.SuggestedCents)
		}
	default:
		return nil, fmt.Errorf("%w: unknown delta kind %q", fare.ErrInvalidInput, p.Kind)
	}
	for _, v := range []float64{p.Calc.DeltaMiles, p.Calc.DeltaMinutes, p.Calc.DeltaWaitMinutes} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite route delta", fare.ErrInvalidInput)
		}
	}

	cur, err := e.Ledger.Get(ctx, p.RideID)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.FareCommitted {
		return nil, storage.ErrFareNotActive
	}
	if cur.CommittedCents <= 0 {
		return nil, fmt.Errorf("%w: committed fare %s cannot be renegotiated", fare.ErrInvalidInput, cur.CommittedCents)
	}

	pct := 100 * float64(p.SuggestedCents.Abs()) / float64(cur.CommittedCents)
	req := &models.DeltaRequest{
		ID:                 newDeltaID(),
		RideID:             p.RideID,
		Kind:               p.Kind,
		SuggestedCents:     p.SuggestedCents,
		Calc:               p.Calc,
		OriginalFareCents:  cur.CommittedCents,
		PercentChange:      pct,
		AutoAcceptEligible: p.AutoAcceptPct != nil && pct <= *p.AutoAcceptPct,
		State:              models.DeltaProposed,
		CreatedAt:          time.Now().UTC(),
	}
	if err := e.Requests.Create(ctx, req); err != nil {
		return nil, err
	}
	e.log().Info("delta proposed",
		"delta_id", req.ID,
		"ride_id", req.RideID,
		"kind", string(req.Kind),
		"suggested", req.SuggestedCents.String(),
		"percent_change", req.PercentChange,
		"auto_accept_eligible", req.AutoAcceptEligible)
	return req, nil
}

// Resolve consumes a proposed request with one of the three terminal
// actions. amount applies to approval only: nil approves the suggested delta
// as-is, a value is a driver edit subject to the guardrail and the shared
// per-ride throttle.
func (e *Engine) Resolve(ctx context.Context, deltaID string, action models.DeltaAction, amount *models.Cents) (*models.DeltaRequest, error) {
	req, err := e.Requests.Get(ctx, deltaID)
	if err != nil {
		return nil, err
	}

	lock := e.rideLock(req.RideID)
	lock.Lock()
	defer lock.Unlock()

	// re-read under the ride lock; a concurrent resolve may have won
	req, err = e.Requests.Get(ctx, deltaID)
	if err != nil {
		return nil, err
	}
	if req.State != models.DeltaProposed {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, deltaID, req.State)
	}

	now := time.Now().UTC()
	switch action {
	case models.ActionApprove:
		return e.approve(ctx, req, amount, now)
	case models.ActionDecline:
		return e.decline(ctx, req, now)
	case models.ActionEscalate:
		return e.escalate(ctx, req, now)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", fare.ErrInvalidInput, action)
	}
}

func (e *Engine) approve(ctx context.Context, req *models.DeltaRequest, amount *models.Cents, now time.Time) (*models.DeltaRequest, error) {
	final := req.SuggestedCents
	edited := amount != nil
	if edited {
		// guardrail before throttle: an out-of-range amount must not
		// consume a window slot
		if err := fare.CheckEdit(req.SuggestedCents, *amount, e.editBand()); err != nil {
			observability.FareEditsTotal.WithLabelValues("out_of_range").Inc()
			return nil, err
		}
		if err := e.Throttle.Allow(ctx, req.RideID, now); err != nil {
			var limited *throttle.RateLimitedError
			if errors.As(err, &limited) {
				observability.FareEditsTotal.WithLabelValues("rate_limited").Inc()
				observability.ThrottleRejections.Inc()
			}
			return nil, err
		}
		mag := amount.Abs()
		if req.Kind == models.RemoveStop {
			mag = -mag
		}
		final = mag
	}

	cur, err := e.Ledger.Get(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.FareCommitted {
		return nil, storage.ErrFareNotActive
	}
	if cur.CommittedCents+final < 0 {
		return nil, fmt.Errorf("%w: delta %s would drive fare %s negative", fare.ErrInvalidInput, final, cur.CommittedCents)
	}

	resolved, err := e.Requests.Transition(ctx, req.ID, models.DeltaApproved, now, &final)
	if err != nil {
		return nil, err
	}
	updated, err := e.Ledger.ApplyDelta(ctx, req.RideID, final, now)
	if err != nil {
		e.log().Error("approved delta not applied to ledger",
			"delta_id", req.ID, "ride_id", req.RideID, "error", err)
		return nil, err
	}
	if edited {
		rec := models.BidEditRecord{RideID: req.RideID, At: now, PriorCents: cur.CommittedCents, NewCents: updated.CommittedCents}
		if err := e.Edits.Append(ctx, rec); err != nil {
			e.log().Error("bid edit audit append failed", "ride_id", req.RideID, "error", err)
		}
		observability.FareEditsTotal.WithLabelValues("applied").Inc()
	}
	observability.DeltaResolutionsTotal.WithLabelValues("approve").Inc()

	newFare := updated.CommittedCents
	e.emit(ctx, models.DeltaDecision{
		DeltaID:        req.ID,
		RideID:         req.RideID,
		Kind:           req.Kind,
		State:          models.DeltaApproved,
		CommittedCents: &final,
		NewFareCents:   &newFare,
		DecidedAt:      now,
	})
	if e.Settlement != nil {
		if err := e.Settlement.AdjustHold(ctx, req.RideID, updated.CommittedCents); err != nil {
			e.log().Warn("settlement hold adjust failed", "ride_id", req.RideID, "error", err)
		}
	}
	e.log().Info("delta approved",
		"delta_id", req.ID,
		"ride_id", req.RideID,
		"committed_delta", final.String(),
		"new_fare", updated.CommittedCents.String(),
		"edited", edited)
	return resolved, nil
}

func (e *Engine) decline(ctx context.Context, req *models.DeltaRequest, now time.Time) (*models.DeltaRequest, error) {
	resolved, err := e.Requests.Transition(ctx, req.ID, models.DeltaDeclined, now, nil)
	if err != nil {
		return nil, err
	}
	observability.DeltaResolutionsTotal.WithLabelValues("decline").Inc()
	e.emit(ctx, models.DeltaDecision{
		DeltaID:   req.ID,
		RideID:    req.RideID,
		Kind:      req.Kind,
		State:     models.DeltaDeclined,
		DecidedAt: now,
	})
	e.log().Info("delta declined, ride keeps pre-change route and fare",
		"delta_id", req.ID, "ride_id", req.RideID)
	return resolved, nil
}

func (e *Engine) escalate(ctx context.Context, req *models.DeltaRequest, now time.Time) (*models.DeltaRequest, error) {
	if req.PercentChange <= e.escalateMinPct() {
		return nil, fmt.Errorf("%w: change of %.1f%% needs more than %.0f%%",
			ErrEscalationNotAllowed, req.PercentChange, e.escalateMinPct())
	}
	resolved, err := e.Requests.Transition(ctx, req.ID, models.DeltaEscalated, now, nil)
	if err != nil {
		return nil, err
	}
	if _, err := e.Ledger.Void(ctx, req.RideID, now); err != nil {
		e.log().Error("fare void failed after escalation",
			"delta_id", req.ID, "ride_id", req.RideID, "error", err)
		return nil, err
	}
	observability.DeltaResolutionsTotal.WithLabelValues("escalate").Inc()
	e.emit(ctx, models.DeltaDecision{
		DeltaID:   req.ID,
		RideID:    req.RideID,
		Kind:      req.Kind,
		State:     models.DeltaEscalated,
		DecidedAt: now,
	})
	if e.Settlement != nil {
		if err := e.Settlement.CancelHold(ctx, req.RideID); err != nil {
			e.log().Warn("settlement hold cancel failed", "ride_id", req.RideID, "error", err)
		}
	}
	e.log().Info("delta escalated to new bid, fare agreement voided",
		"delta_id", req.ID,
		"ride_id", req.RideID,
		"percent_change", req.PercentChange)
	return resolved, nil
}

func (e *Engine) emit(ctx context.Context, d models.DeltaDecision) {
	if e.Publisher != nil {
		if err := e.Publisher.PublishDecision(ctx, d); err != nil {
			e.log().Error("decision publish failed", "delta_id", d.DeltaID, "error", err)
		}
	}
	if e.Stream != nil {
		e.Stream.StreamDecision(d)
	}
}

func (e *Engine) rideLock(rideID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rides == nil {
		e.rides = make(map[string]*sync.Mutex)
	}
	l, ok := e.rides[rideID]
	if !ok {
		l = &sync.Mutex{}
		e.rides[rideID] = l
	}
	return l
}

func (e *Engine) log() *slog.Logger { return logging.OrDiscard(e.Logger) }

func (e *Engine) editBand() float64 {
	if e.EditBand > 0 {
		return e.EditBand
	}
	return fare.DefaultEditBand
}

func (e *Engine) escalateMinPct() float64 {
	if e.EscalateMinPct > 0 {
		return e.EscalateMinPct
	}
	return DefaultEscalateMinPct
}

func newDeltaID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "dr_" + hex.EncodeToString(b)
}
