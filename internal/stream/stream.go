// Package stream pushes engine decisions to live per-ride subscribers over
// websockets. Delivery is fire-and-forget: the Kafka topic is the durable
// channel, the stream is a convenience for apps already watching the ride.
package stream

import (
	"log/slog"
	"sync"

	"github.com/example/fare-engine/internal/logging"
	"github.com/example/fare-engine/internal/models"
	"github.com/gorilla/websocket"
)

// Session is one subscriber connection. Writes serialize on the session
// mutex; gorilla/websocket allows one concurrent writer per conn.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry tracks subscribers by ride. A ride can have several watchers
// (rider app, dispatch console).
type Registry struct {
	mu     sync.RWMutex
	rides  map[string]map[*Session]struct{}
	Logger *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{rides: make(map[string]map[*Session]struct{})}
}

// Add registers a connection as a subscriber of the ride's events.
func (r *Registry) Add(rideID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.rides[rideID]
	if !ok {
		subs = make(map[*Session]struct{})
		r.rides[rideID] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Subscribers reports how many sessions are watching the ride.
func (r *Registry) Subscribers(rideID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rides[rideID])
}

// Remove drops the session, closing its connection.
func (r *Registry) Remove(rideID string, s *Session) {
	r.mu.Lock()
	if subs, ok := r.rides[rideID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(r.rides, rideID)
		}
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

// Broadcast sends the event to every subscriber of the ride. Sessions whose
// write fails are dropped.
func (r *Registry) Broadcast(rideID string, ev models.EngineEvent) {
	r.mu.RLock()
	subs := make([]*Session, 0, len(r.rides[rideID]))
	for s := range r.rides[rideID] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if err := s.send(ev); err != nil {
			logging.OrDiscard(r.Logger).Warn("stream write failed, dropping session", "ride_id", rideID, "error", err)
			r.Remove(rideID, s)
		}
	}
}

// StreamDecision satisfies the delta engine's stream hook.
func (r *Registry) StreamDecision(d models.DeltaDecision) {
	r.Broadcast(d.RideID, models.EngineEvent{Type: models.EngineEventDeltaDecision, RideID: d.RideID, Payload: d})
}

// StreamFare pushes a fare-agreement change (commit or accepted edit).
func (r *Registry) StreamFare(eventType string, f *models.RideFare) {
	r.Broadcast(f.RideID, models.EngineEvent{Type: eventType, RideID: f.RideID, Payload: f})
}
