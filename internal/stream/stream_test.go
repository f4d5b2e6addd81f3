package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/fare-engine/internal/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func dialSubscriber(t *testing.T, reg *Registry, rideID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		reg.Add(rideID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitForSubscriber(t, reg, rideID)
	return conn
}

// waitForSubscriber blocks until the server-side Add lands; the dial returns
// as soon as the handshake does, which can be earlier.
func waitForSubscriber(t *testing.T, reg *Registry, rideID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Subscribers(rideID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber registered for %s", rideID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryBroadcastsDecisionToRideSubscribers(t *testing.T) {
	reg := NewRegistry()
	conn := dialSubscriber(t, reg, "r1")
	other := dialSubscriber(t, reg, "r2")

	committed := models.Cents(450)
	reg.StreamDecision(models.DeltaDecision{
		DeltaID:        "d1",
		RideID:         "r1",
		Kind:           models.AddStop,
		State:          models.DeltaApproved,
		CommittedCents: &committed,
		DecidedAt:      time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.EngineEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != models.EngineEventDeltaDecision || ev.RideID != "r1" {
		t.Fatalf("event = %+v", ev)
	}

	// the other ride's subscriber must stay silent
	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := other.ReadJSON(&ev); err == nil {
		t.Fatal("subscriber of r2 received r1's event")
	}
}

func TestRegistryStreamsFareEvents(t *testing.T) {
	reg := NewRegistry()
	conn := dialSubscriber(t, reg, "r1")

	reg.StreamFare(models.EngineEventFareEdited, &models.RideFare{
		RideID:         "r1",
		SuggestedCents: 1000,
		CommittedCents: 1100,
		Status:         models.FareCommitted,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.EngineEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != models.EngineEventFareEdited {
		t.Fatalf("type = %s", ev.Type)
	}
}

func TestWebhookNotifierPostsEnvelope(t *testing.T) {
	var got models.EngineEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("%s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.PublishDecision(context.Background(), models.DeltaDecision{
		DeltaID: "d1", RideID: "r1", State: models.DeltaDeclined, DecidedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != models.EngineEventDeltaDecision || got.RideID != "r1" {
		t.Fatalf("envelope = %+v", got)
	}
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.PublishDecision(context.Background(), models.DeltaDecision{DeltaID: "d1", RideID: "r1"}); err == nil {
		t.Fatal("expected error for 502")
	}
}
