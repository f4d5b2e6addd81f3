package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/fare-engine/internal/delta"
	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/observability"
	"github.com/example/fare-engine/internal/rates"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/routing"
)

type quoteRequest struct {
	DriverID         string         `json:"driver_id"`
	ScheduledAt      time.Time      `json:"scheduled_at"`
	PickupDistanceMi *float64       `json:"pickup_distance_mi,omitempty"`
	RideDistanceMi   *float64       `json:"ride_distance_mi,omitempty"`
	DriverLocation   *routing.Coord `json:"driver_location,omitempty"`
	Pickup           *routing.Coord `json:"pickup,omitempty"`
	Dropoff          *routing.Coord `json:"dropoff,omitempty"`
}

// handleQuote prices a ride against the driver's profile. Leg distances come
// from the request when present; otherwise they are resolved through the
// routing provider from the supplied coordinates.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	if req.DriverID == "" {
		s.respondError(w, r, fmt.Errorf("%w: missing driver_id", fare.ErrInvalidInput))
		return
	}
	ctx := r.Context()
	profile, err := s.deps.Profiles.Get(ctx, req.DriverID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	pickupMi, err := s.legMiles(ctx, "pickup", req.PickupDistanceMi, req.DriverLocation, req.Pickup)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rideMi, err := s.legMiles(ctx, "ride", req.RideDistanceMi, req.Pickup, req.Dropoff)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	scheduled := req.ScheduledAt
	if scheduled.IsZero() {
		scheduled = time.Now()
	}
	q, err := fare.ResolveFare(profile, scheduled, pickupMi, rideMi)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	observability.QuotesTotal.Inc()
	writeJSON(w, http.StatusOK, q)
}

// legMiles returns the explicit distance when the caller supplied one, and
// falls back to routing the leg between the given coordinates.
func (s *Server) legMiles(ctx context.Context, leg string, explicit *float64, from, to *routing.Coord) (float64, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if from == nil || to == nil {
		return 0, fmt.Errorf("%w: %s leg needs a distance or both endpoints", fare.ErrInvalidInput, leg)
	}
	if s.deps.Routing == nil {
		return 0, fmt.Errorf("%w: %s leg needs a distance, no routing provider configured", fare.ErrInvalidInput, leg)
	}
	rt, err := s.deps.Routing.Route(ctx, *from, *to)
	if err != nil {
		return 0, fmt.Errorf("route %s leg: %w", leg, err)
	}
	return rt.Miles, nil
}

type commitFareRequest struct {
	Quote      models.FareQuote `json:"quote"`
	CustomerID string           `json:"customer_id,omitempty"`
}

func (s *Server) handleCommitFare(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req commitFareRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	f, err := s.deps.Fares.Commit(r.Context(), rideID, req.Quote)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.publishFare(r.Context(), models.EngineEventFareCommitted, f)
	if s.deps.Settlement != nil && req.CustomerID != "" {
		if _, err := s.deps.Settlement.OpenHold(r.Context(), rideID, f.CommittedCents, req.CustomerID); err != nil {
			s.logger.Warn("open settlement hold", "ride_id", rideID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFare(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Fares.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type bidEditRequest struct {
	AmountCents models.Cents `json:"amount_cents"`
}

func (s *Server) handleBidEdit(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req bidEditRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	f, err := s.deps.Fares.Edit(r.Context(), rideID, req.AmountCents, time.Now())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.publishFare(r.Context(), models.EngineEventFareEdited, f)
	if s.deps.Settlement != nil {
		if err := s.deps.Settlement.AdjustHold(r.Context(), rideID, f.CommittedCents); err != nil {
			s.logger.Warn("adjust settlement hold", "ride_id", rideID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, f)
}

// publishFare fans a fare agreement change out to the event pipeline and any
// live ride subscribers. Both sinks are best effort.
func (s *Server) publishFare(ctx context.Context, eventType string, f *models.RideFare) {
	if s.deps.Fanout != nil {
		if err := s.deps.Fanout.PublishFare(ctx, eventType, f); err != nil {
			s.logger.Warn("publish fare event", "type", eventType, "ride_id", f.RideID, "error", err)
		}
	}
	if s.deps.Stream != nil {
		s.deps.Stream.StreamFare(eventType, f)
	}
}

type stopChangeStops struct {
	Before []routing.Coord `json:"before"`
	After  []routing.Coord `json:"after"`
}

type proposeDeltaRequest struct {
	Kind                models.DeltaKind  `json:"kind"`
	SuggestedDeltaCents models.Cents      `json:"suggested_delta_cents"`
	Calc                *models.DeltaCalc `json:"calc,omitempty"`
	AutoAcceptPct       *float64          `json:"auto_accept_pct,omitempty"`
	Stops               *stopChangeStops  `json:"stops,omitempty"`
}

// handleProposeDelta opens a mid-ride renegotiation. Callers either supply
// the priced route difference directly or the changed stop lists, in which
// case the routing provider prices the change.
func (s *Server) handleProposeDelta(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req proposeDeltaRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	p := delta.Proposal{
		RideID:         rideID,
		Kind:           req.Kind,
		SuggestedCents: req.SuggestedDeltaCents,
		AutoAcceptPct:  req.AutoAcceptPct,
	}
	if req.Calc != nil {
		p.Calc = *req.Calc
	}
	if req.Stops != nil {
		if s.deps.Routing == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{
				Error:   "routing_unavailable",
				Message: "stop pricing requires a routing provider",
			})
			return
		}
		sc, err := s.deps.Routing.StopChange(r.Context(), routing.StopChangeRequest{
			RideID: rideID,
			Kind:   req.Kind,
			Before: req.Stops.Before,
			After:  req.Stops.After,
		})
		if err != nil {
			s.respondError(w, r, fmt.Errorf("price stop change: %w", err))
			return
		}
		p.Calc = sc.Calc
		p.SuggestedCents = sc.SuggestedCents
	}
	d, err := s.deps.Deltas.Propose(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type resolveDeltaRequest struct {
	Action      models.DeltaAction `json:"action"`
	AmountCents *models.Cents      `json:"amount_cents,omitempty"`
}

func (s *Server) handleResolveDelta(w http.ResponseWriter, r *http.Request) {
	deltaID := mux.Vars(r)["delta_id"]
	var req resolveDeltaRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	d, err := s.deps.Deltas.Resolve(r.Context(), deltaID, req.Action, req.AmountCents)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type insufficientDataResponse struct {
	DriverID string `json:"driver_id"`
	Status   string `json:"status"`
}

func (s *Server) handleReliability(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	score, err := s.deps.Reliability.Score(r.Context(), driverID)
	if errors.Is(err, reliability.ErrInsufficientData) {
		writeJSON(w, http.StatusOK, insufficientDataResponse{DriverID: driverID, Status: "insufficient_data"})
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

type cooldownResponse struct {
	DriverID string     `json:"driver_id"`
	Active   bool       `json:"active"`
	Until    *time.Time `json:"until,omitempty"`
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	st, err := s.deps.Reliability.CooldownState(r.Context(), driverID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := cooldownResponse{DriverID: driverID, Active: st.Active}
	if st.Active {
		until := st.Until
		resp.Until = &until
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOutcome accepts a ride outcome event. With a publisher configured the
// event goes through the pipeline; otherwise it is ingested directly.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var ev models.OutcomeEvent
	if err := decodeBody(r, &ev); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", reliability.ErrInvalidEvent, err))
		return
	}
	if s.deps.Outcomes != nil {
		if err := s.deps.Outcomes.PublishOutcome(r.Context(), ev); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	if err := s.deps.Reliability.Ingest(r.Context(), ev); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ingested"})
}

// handleCaptureSettlement finalizes the ride's payment hold. The ride
// lifecycle system calls this once the ride completes; rides that never had a
// hold capture as a no-op.
func (s *Server) handleCaptureSettlement(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	if s.deps.Settlement == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "settlement_unavailable",
			Message: "no payment processor configured",
		})
		return
	}
	if err := s.deps.Settlement.CaptureHold(r.Context(), rideID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID, "status": "captured"})
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var p models.RateProfile
	if err := decodeBody(r, &p); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", fare.ErrInvalidInput, err))
		return
	}
	p.DriverID = driverID
	if err := rates.ValidateProfile(p); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Profiles.Put(r.Context(), p); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Get(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelReasons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.KnownCancelReasons())
}

var upgrader = websocket.Upgrader{}

// handleRideStream upgrades the connection and subscribes it to the ride's
// decision feed. The read loop only exists to notice the peer going away.
func (s *Server) handleRideStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := s.deps.Stream.Add(rideID, conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.deps.Stream.Remove(rideID, sess)
				return
			}
		}
	}()
}
