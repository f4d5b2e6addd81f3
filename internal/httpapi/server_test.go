package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fare-engine/internal/delta"
	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/routing"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/stream"
	"github.com/example/fare-engine/internal/throttle"
)

// capturedEvents records everything the handlers fan out.
type capturedEvents struct {
	outcomes  []models.OutcomeEvent
	fareTypes []string
}

func (c *capturedEvents) PublishOutcome(_ context.Context, ev models.OutcomeEvent) error {
	c.outcomes = append(c.outcomes, ev)
	return nil
}

func (c *capturedEvents) PublishFare(_ context.Context, eventType string, _ *models.RideFare) error {
	c.fareTypes = append(c.fareTypes, eventType)
	return nil
}

// fakeRouting serves canned legs keyed by endpoint coordinates.
type fakeRouting struct {
	routes map[[4]float64]routing.Route
	stop   routing.StopChange
}

func (f *fakeRouting) Route(_ context.Context, from, to routing.Coord) (routing.Route, error) {
	r, ok := f.routes[[4]float64{from.Lat, from.Lon, to.Lat, to.Lon}]
	if !ok {
		return routing.Route{}, fmt.Errorf("no route %v -> %v", from, to)
	}
	return r, nil
}

func (f *fakeRouting) StopChange(_ context.Context, _ routing.StopChangeRequest) (routing.StopChange, error) {
	return f.stop, nil
}

// fakeSettlement records hold operations in order.
type fakeSettlement struct {
	calls []string
}

func (f *fakeSettlement) OpenHold(_ context.Context, rideID string, amount models.Cents, customerID string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("open %s %d %s", rideID, amount, customerID))
	return "pi_test", nil
}

func (f *fakeSettlement) AdjustHold(_ context.Context, rideID string, amount models.Cents) error {
	f.calls = append(f.calls, fmt.Sprintf("adjust %s %d", rideID, amount))
	return nil
}

func (f *fakeSettlement) CaptureHold(_ context.Context, rideID string) error {
	f.calls = append(f.calls, "capture "+rideID)
	return nil
}

type serverOptions struct {
	editLimit  int
	routing    routing.Provider
	outcomes   OutcomePublisher
	stream     *stream.Registry
	settlement SettlementHolds
}

func newTestServer(t *testing.T, opts serverOptions) (*Server, *capturedEvents) {
	t.Helper()
	if opts.editLimit == 0 {
		opts.editLimit = 3
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := storage.NewMemoryLedger()
	edits := storage.NewMemoryBidEdits()
	lim := throttle.NewMemory(time.Minute, opts.editLimit)
	events := &capturedEvents{}
	deltas := &delta.Engine{
		Requests: delta.NewMemoryStore(),
		Ledger:   ledger,
		Edits:    edits,
		Throttle: lim,
	}
	if opts.stream != nil {
		deltas.Stream = opts.stream
	}
	deps := Deps{
		Profiles: storage.NewMemoryProfiles(),
		Fares:    &fare.Service{Ledger: ledger, Edits: edits, Throttle: lim},
		Deltas:   deltas,
		Reliability: &reliability.Service{
			Events:    storage.NewMemoryEvents(),
			Cooldowns: reliability.NewMemoryCooldowns(),
		},
		Routing:    opts.routing,
		Outcomes:   opts.outcomes,
		Fanout:     events,
		Stream:     opts.stream,
		Settlement: opts.settlement,
	}
	return NewServer(logger, deps), events
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body)
	}
}

func putProfile(t *testing.T, s *Server, driverID string) {
	t.Helper()
	p := models.RateProfile{DefaultRate: models.Rate{PickupRate: 1.0, DestinationRate: 2.0}}
	w := doRequest(t, s, http.MethodPut, "/internal/profiles/"+driverID, p)
	if w.Code != http.StatusNoContent {
		t.Fatalf("put profile status = %d body %s", w.Code, w.Body)
	}
}

func commitFare(t *testing.T, s *Server, rideID string, total models.Cents) models.RideFare {
	t.Helper()
	q := models.FareQuote{ID: "q1", TotalCents: total, CreatedAt: time.Now().UTC()}
	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/"+rideID+"/fare", commitFareRequest{Quote: q})
	if w.Code != http.StatusCreated {
		t.Fatalf("commit status = %d body %s", w.Code, w.Body)
	}
	var f models.RideFare
	decodeInto(t, w, &f)
	return f
}

func TestQuoteWithExplicitDistances(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	putProfile(t, s, "d1")

	pickup, ride := 2.0, 3.0
	w := doRequest(t, s, http.MethodPost, "/api/v1/quotes", quoteRequest{
		DriverID:         "d1",
		PickupDistanceMi: &pickup,
		RideDistanceMi:   &ride,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var q models.FareQuote
	decodeInto(t, w, &q)
	// 2mi * $1 + 3mi * $2
	if q.TotalCents != 800 {
		t.Fatalf("total = %d, want 800", q.TotalCents)
	}
	if q.AppliedTimeBlockID != nil {
		t.Fatalf("applied block = %v, want default rate", *q.AppliedTimeBlockID)
	}
	if q.ID == "" {
		t.Fatal("quote id missing")
	}
}

func TestQuoteUnknownDriver(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	pickup, ride := 1.0, 1.0
	w := doRequest(t, s, http.MethodPost, "/api/v1/quotes", quoteRequest{
		DriverID:         "ghost",
		PickupDistanceMi: &pickup,
		RideDistanceMi:   &ride,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestQuoteResolvesLegsThroughRouting(t *testing.T) {
	driver := routing.Coord{Lat: 1, Lon: 1}
	pickup := routing.Coord{Lat: 2, Lon: 2}
	dropoff := routing.Coord{Lat: 3, Lon: 3}
	rt := &fakeRouting{routes: map[[4]float64]routing.Route{
		{1, 1, 2, 2}: {Miles: 2, Minutes: 6},
		{2, 2, 3, 3}: {Miles: 3, Minutes: 9},
	}}
	s, _ := newTestServer(t, serverOptions{routing: rt})
	putProfile(t, s, "d1")

	w := doRequest(t, s, http.MethodPost, "/api/v1/quotes", quoteRequest{
		DriverID:       "d1",
		DriverLocation: &driver,
		Pickup:         &pickup,
		Dropoff:        &dropoff,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var q models.FareQuote
	decodeInto(t, w, &q)
	if q.TotalCents != 800 {
		t.Fatalf("total = %d, want 800", q.TotalCents)
	}
	if q.PickupDistanceMi != 2 || q.RideDistanceMi != 3 {
		t.Fatalf("legs = %v/%v, want 2/3", q.PickupDistanceMi, q.RideDistanceMi)
	}
}

func TestQuoteMissingLegInputs(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	putProfile(t, s, "d1")

	// no distances and no coordinates to resolve them from
	w := doRequest(t, s, http.MethodPost, "/api/v1/quotes", quoteRequest{DriverID: "d1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCommitFarePublishesAndGets(t *testing.T) {
	s, events := newTestServer(t, serverOptions{})
	f := commitFare(t, s, "r1", 2000)

	if f.Status != models.FareCommitted || f.CommittedCents != 2000 || f.SuggestedCents != 2000 {
		t.Fatalf("fare = %+v", f)
	}
	if len(events.fareTypes) != 1 || events.fareTypes[0] != models.EngineEventFareCommitted {
		t.Fatalf("published = %v", events.fareTypes)
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/rides/r1/fare", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got models.RideFare
	decodeInto(t, w, &got)
	if got.CommittedCents != 2000 {
		t.Fatalf("committed = %d", got.CommittedCents)
	}
}

func TestCommitFareRejectsZeroTotal(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare", commitFareRequest{
		Quote: models.FareQuote{ID: "q1", TotalCents: 0},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBidEditOutOfRangePayload(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	commitFare(t, s, "r1", 1000)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare/edits", bidEditRequest{AmountCents: 1201})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", w.Code, w.Body)
	}
	var body errorBody
	decodeInto(t, w, &body)
	if body.Error != "out_of_range" {
		t.Fatalf("error = %q", body.Error)
	}
	if body.MinCents == nil || body.MaxCents == nil || *body.MinCents != 800 || *body.MaxCents != 1200 {
		t.Fatalf("bounds = %v/%v, want 800/1200", body.MinCents, body.MaxCents)
	}
}

func TestBidEditThrottledHasRetryAfter(t *testing.T) {
	s, events := newTestServer(t, serverOptions{editLimit: 1})
	commitFare(t, s, "r1", 1000)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare/edits", bidEditRequest{AmountCents: 1100})
	if w.Code != http.StatusOK {
		t.Fatalf("first edit status = %d body %s", w.Code, w.Body)
	}
	w = doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare/edits", bidEditRequest{AmountCents: 1050})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second edit status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	var body errorBody
	decodeInto(t, w, &body)
	if body.RetryAfterSeconds == nil || *body.RetryAfterSeconds < 1 {
		t.Fatalf("retry_after_seconds = %v", body.RetryAfterSeconds)
	}

	want := []string{models.EngineEventFareCommitted, models.EngineEventFareEdited}
	if len(events.fareTypes) != len(want) || events.fareTypes[1] != want[1] {
		t.Fatalf("published = %v, want %v", events.fareTypes, want)
	}
}

func TestDeltaLifecycleOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	commitFare(t, s, "r1", 2000)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/deltas", proposeDeltaRequest{
		Kind:                models.AddStop,
		SuggestedDeltaCents: 400,
		Calc:                &models.DeltaCalc{DeltaMiles: 1.5, DeltaMinutes: 7},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("propose status = %d body %s", w.Code, w.Body)
	}
	var req models.DeltaRequest
	decodeInto(t, w, &req)
	if req.State != models.DeltaProposed || req.PercentChange != 20 {
		t.Fatalf("request = %+v", req)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/deltas/"+req.ID+"/resolve", resolveDeltaRequest{Action: models.ActionApprove})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d body %s", w.Code, w.Body)
	}
	var resolved models.DeltaRequest
	decodeInto(t, w, &resolved)
	if resolved.State != models.DeltaApproved || resolved.CommittedCents == nil || *resolved.CommittedCents != 400 {
		t.Fatalf("resolved = %+v", resolved)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/rides/r1/fare", nil)
	var f models.RideFare
	decodeInto(t, w, &f)
	if f.CommittedCents != 2400 {
		t.Fatalf("fare after approval = %d, want 2400", f.CommittedCents)
	}

	// a resolved request is consumed
	w = doRequest(t, s, http.MethodPost, "/api/v1/deltas/"+req.ID+"/resolve", resolveDeltaRequest{Action: models.ActionDecline})
	if w.Code != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want 409", w.Code)
	}
}

func TestDeltaProposeFromStops(t *testing.T) {
	rt := &fakeRouting{stop: routing.StopChange{
		Calc:           models.DeltaCalc{DeltaMiles: 1.2, DeltaMinutes: 5, DeltaWaitMinutes: 3},
		SuggestedCents: 400,
	}}
	s, _ := newTestServer(t, serverOptions{routing: rt})
	commitFare(t, s, "r1", 2000)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/deltas", proposeDeltaRequest{
		Kind: models.AddStop,
		Stops: &stopChangeStops{
			Before: []routing.Coord{{Lat: 1, Lon: 1}},
			After:  []routing.Coord{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var req models.DeltaRequest
	decodeInto(t, w, &req)
	if req.SuggestedCents != 400 || req.Calc.DeltaMiles != 1.2 {
		t.Fatalf("request = %+v", req)
	}
}

func TestDeltaProposeFromStopsWithoutRouting(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	commitFare(t, s, "r1", 2000)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/deltas", proposeDeltaRequest{
		Kind:  models.AddStop,
		Stops: &stopChangeStops{After: []routing.Coord{{Lat: 2, Lon: 2}}},
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestReliabilityInsufficientData(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	w := doRequest(t, s, http.MethodGet, "/api/v1/drivers/d9/reliability", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp insufficientDataResponse
	decodeInto(t, w, &resp)
	if resp.Status != "insufficient_data" || resp.DriverID != "d9" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestReliabilityScoreAfterHistory(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		for _, typ := range []models.OutcomeType{models.OutcomeAwarded, models.OutcomeAccepted, models.OutcomeBidHonored} {
			ev := models.OutcomeEvent{DriverID: "d1", RideID: fmt.Sprintf("r%d", i), Type: typ, OccurredAt: now}
			if w := doRequest(t, s, http.MethodPost, "/internal/outcomes", ev); w.Code != http.StatusAccepted {
				t.Fatalf("ingest %s status = %d body %s", typ, w.Code, w.Body)
			}
		}
		ev := models.OutcomeEvent{DriverID: "d1", RideID: fmt.Sprintf("r%d", i), Type: models.OutcomePickup, OnTime: true, OccurredAt: now}
		if w := doRequest(t, s, http.MethodPost, "/internal/outcomes", ev); w.Code != http.StatusAccepted {
			t.Fatalf("ingest pickup status = %d", w.Code)
		}
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/drivers/d1/reliability", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var score models.ReliabilityScore
	decodeInto(t, w, &score)
	if score.Value != 100 || score.Band != models.BandExcellent {
		t.Fatalf("score = %d band %s, want 100 EXCELLENT", score.Value, score.Band)
	}
}

func TestCooldownEndpoint(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})

	w := doRequest(t, s, http.MethodGet, "/api/v1/drivers/d1/cooldown", nil)
	var resp cooldownResponse
	decodeInto(t, w, &resp)
	if resp.Active || resp.Until != nil {
		t.Fatalf("idle driver cooldown = %+v", resp)
	}

	ev := models.OutcomeEvent{
		DriverID:   "d1",
		RideID:     "r1",
		Type:       models.OutcomeCancelled,
		CancelCode: models.CancelDriverCanceled,
		OccurredAt: time.Now().UTC(),
	}
	if w := doRequest(t, s, http.MethodPost, "/internal/outcomes", ev); w.Code != http.StatusAccepted {
		t.Fatalf("ingest status = %d body %s", w.Code, w.Body)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/drivers/d1/cooldown", nil)
	decodeInto(t, w, &resp)
	if !resp.Active || resp.Until == nil {
		t.Fatalf("cooldown = %+v, want active with until", resp)
	}
}

func TestOutcomeQueuedWhenPublisherConfigured(t *testing.T) {
	events := &capturedEvents{}
	s, _ := newTestServer(t, serverOptions{outcomes: events})

	ev := models.OutcomeEvent{DriverID: "d1", Type: models.OutcomeAwarded, OccurredAt: time.Now()}
	w := doRequest(t, s, http.MethodPost, "/internal/outcomes", ev)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	decodeInto(t, w, &resp)
	if resp["status"] != "queued" {
		t.Fatalf("status = %q, want queued", resp["status"])
	}
	if len(events.outcomes) != 1 || events.outcomes[0].DriverID != "d1" {
		t.Fatalf("captured = %+v", events.outcomes)
	}
}

func TestOutcomeRejectsUnknownType(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	ev := models.OutcomeEvent{DriverID: "d1", Type: "teleported", OccurredAt: time.Now()}
	w := doRequest(t, s, http.MethodPost, "/internal/outcomes", ev)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSettlementHoldLifecycle(t *testing.T) {
	holds := &fakeSettlement{}
	s, _ := newTestServer(t, serverOptions{settlement: holds})

	q := models.FareQuote{ID: "q1", TotalCents: 2000, CreatedAt: time.Now().UTC()}
	w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare", commitFareRequest{Quote: q, CustomerID: "cus_9"})
	if w.Code != http.StatusCreated {
		t.Fatalf("commit status = %d body %s", w.Code, w.Body)
	}
	if w := doRequest(t, s, http.MethodPost, "/api/v1/rides/r1/fare/edits", bidEditRequest{AmountCents: 2200}); w.Code != http.StatusOK {
		t.Fatalf("edit status = %d body %s", w.Code, w.Body)
	}
	if w := doRequest(t, s, http.MethodPost, "/internal/rides/r1/settlement/capture", nil); w.Code != http.StatusOK {
		t.Fatalf("capture status = %d body %s", w.Code, w.Body)
	}

	want := []string{"open r1 2000 cus_9", "adjust r1 2200", "capture r1"}
	if len(holds.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", holds.calls, want)
	}
	for i := range want {
		if holds.calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, holds.calls[i], want[i])
		}
	}
}

func TestCaptureSettlementWithoutProcessor(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	w := doRequest(t, s, http.MethodPost, "/internal/rides/r1/settlement/capture", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestPutProfileRejectsBadBlock(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	p := models.RateProfile{
		DefaultRate: models.Rate{PickupRate: 1, DestinationRate: 1},
		TimeBlocks: []models.TimeBlock{
			{ID: "night", Name: "Night", Start: "25:00", End: "06:00", PickupRate: 2, DestinationRate: 2, Enabled: true},
		},
	}
	w := doRequest(t, s, http.MethodPut, "/internal/profiles/d1", p)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", w.Code, w.Body)
	}
}

func TestGetProfileRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	putProfile(t, s, "d1")

	w := doRequest(t, s, http.MethodGet, "/internal/profiles/d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var p models.RateProfile
	decodeInto(t, w, &p)
	if p.DriverID != "d1" || p.DefaultRate.PickupRate != 1.0 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestCancelReasonsRegistry(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	w := doRequest(t, s, http.MethodGet, "/internal/cancel-reasons", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var reasons []models.CancelReason
	decodeInto(t, w, &reasons)
	if len(reasons) != 7 || reasons[0].Code != models.CancelRiderNoShow {
		t.Fatalf("reasons = %+v", reasons)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s, _ := newTestServer(t, serverOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	w = doRequest(t, s, http.MethodGet, "/healthz", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("generated request id missing")
	}
}

func TestRideStreamReceivesCommit(t *testing.T) {
	reg := stream.NewRegistry()
	s, _ := newTestServer(t, serverOptions{stream: reg})
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rides/r1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Subscribers("r1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	commitFare(t, s, "r1", 2000)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.EngineEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != models.EngineEventFareCommitted || ev.RideID != "r1" {
		t.Fatalf("event = %+v", ev)
	}
}
