package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/fare-engine/internal/models"
)

// MemoryLedger is the in-process FareLedger.
type MemoryLedger struct {
	mu    sync.RWMutex
	fares map[string]*models.RideFare
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{fares: make(map[string]*models.RideFare)}
}

func (m *MemoryLedger) Commit(_ context.Context, f *models.RideFare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.fares[f.RideID] = &cp
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, rideID string) (*models.RideFare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fares[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryLedger) SetCommitted(_ context.Context, rideID string, amount models.Cents, at time.Time) (*models.RideFare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fares[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if f.Status != models.FareCommitted {
		return nil, ErrFareNotActive
	}
	f.CommittedCents = amount
	f.UpdatedAt = at
	cp := *f
	return &cp, nil
}

func (m *MemoryLedger) ApplyDelta(_ context.Context, rideID string, delta models.Cents, at time.Time) (*models.RideFare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fares[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if f.Status != models.FareCommitted {
		return nil, ErrFareNotActive
	}
	f.CommittedCents += delta
	f.UpdatedAt = at
	cp := *f
	return &cp, nil
}

func (m *MemoryLedger) Void(_ context.Context, rideID string, at time.Time) (*models.RideFare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fares[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	f.Status = models.FareVoided
	f.UpdatedAt = at
	cp := *f
	return &cp, nil
}

// MemoryBidEdits is the in-process BidEditLog.
type MemoryBidEdits struct {
	mu    sync.RWMutex
	edits map[string][]models.BidEditRecord
}

func NewMemoryBidEdits() *MemoryBidEdits {
	return &MemoryBidEdits{edits: make(map[string][]models.BidEditRecord)}
}

func (m *MemoryBidEdits) Append(_ context.Context, rec models.BidEditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[rec.RideID] = append(m.edits[rec.RideID], rec)
	return nil
}

func (m *MemoryBidEdits) ListByRide(_ context.Context, rideID string) ([]models.BidEditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BidEditRecord, len(m.edits[rideID]))
	copy(out, m.edits[rideID])
	return out, nil
}

// MemoryEvents is the in-process EventLog.
type MemoryEvents struct {
	mu     sync.RWMutex
	events map[string][]models.OutcomeEvent
	seen   map[string]struct{}
}

func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{
		events: make(map[string][]models.OutcomeEvent),
		seen:   make(map[string]struct{}),
	}
}

func (m *MemoryEvents) Append(_ context.Context, ev models.OutcomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID != "" {
		if _, dup := m.seen[ev.ID]; dup {
			return nil
		}
		m.seen[ev.ID] = struct{}{}
	}
	m.events[ev.DriverID] = append(m.events[ev.DriverID], ev)
	return nil
}

func (m *MemoryEvents) ListByDriver(_ context.Context, driverID string, from, to time.Time) ([]models.OutcomeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OutcomeEvent
	for _, ev := range m.events[driverID] {
		if ev.OccurredAt.After(from) && !ev.OccurredAt.After(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// MemoryProfiles is the in-process ProfileStore.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]models.RateProfile
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]models.RateProfile)}
}

func (m *MemoryProfiles) Put(_ context.Context, p models.RateProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DriverID] = p
	return nil
}

func (m *MemoryProfiles) Get(_ context.Context, driverID string) (models.RateProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[driverID]
	if !ok {
		return models.RateProfile{}, ErrNotFound
	}
	return p, nil
}
