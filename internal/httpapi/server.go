// Package httpapi exposes the engine over HTTP: quoting, fare commit and
// guarded edits, mid-ride delta renegotiation, reliability scores and
// cooldowns, plus the internal ingestion and profile endpoints. Handlers
// translate the engine's typed errors into statuses; no business rule lives
// here.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fare-engine/internal/delta"
	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/routing"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/stream"
)

// OutcomePublisher forwards outcome events to the event pipeline.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev models.OutcomeEvent) error
}

// FarePublisher announces committed and edited fare agreements.
type FarePublisher interface {
	PublishFare(ctx context.Context, eventType string, f *models.RideFare) error
}

// SettlementHolds mirrors fare agreements onto payment holds. Hold failures
// never fail the fare operation that triggered them; capture is the one
// explicit call, made by the ride lifecycle system at completion.
type SettlementHolds interface {
	OpenHold(ctx context.Context, rideID string, amount models.Cents, customerID string) (string, error)
	AdjustHold(ctx context.Context, rideID string, amount models.Cents) error
	CaptureHold(ctx context.Context, rideID string) error
}

// Deps are the engine services the API serves. Routing, Outcomes, Fanout,
// Stream and Settlement are optional; handlers degrade when absent.
type Deps struct {
	Profiles    storage.ProfileStore
	Fares       *fare.Service
	Deltas      *delta.Engine
	Reliability *reliability.Service
	Routing     routing.Provider
	Outcomes    OutcomePublisher
	Fanout      FarePublisher
	Stream      *stream.Registry
	Settlement  SettlementHolds
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, deps Deps) *Server {
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/quotes", s.handleQuote).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/fare", s.handleCommitFare).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/fare", s.handleGetFare).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/fare/edits", s.handleBidEdit).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/deltas", s.handleProposeDelta).Methods("POST")
	s.mux.HandleFunc("/api/v1/deltas/{delta_id}/resolve", s.handleResolveDelta).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/reliability", s.handleReliability).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/cooldown", s.handleCooldown).Methods("GET")

	s.mux.HandleFunc("/internal/outcomes", s.handleOutcome).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{ride_id}/settlement/capture", s.handleCaptureSettlement).Methods("POST")
	s.mux.HandleFunc("/internal/profiles/{driver_id}", s.handlePutProfile).Methods("PUT")
	s.mux.HandleFunc("/internal/profiles/{driver_id}", s.handleGetProfile).Methods("GET")
	s.mux.HandleFunc("/internal/cancel-reasons", s.handleCancelReasons).Methods("GET")

	s.mux.HandleFunc("/ws/rides/{ride_id}", s.handleRideStream)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
