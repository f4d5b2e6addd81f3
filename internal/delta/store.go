package delta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/storage"
)

// RequestStore persists renegotiation requests. Transition is the
// exactly-once gate: only a Proposed request can move, and only once.
type RequestStore interface {
	Create(ctx context.Context, r *models.DeltaRequest) error
	Get(ctx context.Context, id string) (*models.DeltaRequest, error)
	// Transition resolves a proposed request into a terminal state. It
	// fails with ErrInvalidState when the request was already resolved and
	// storage.ErrNotFound when it does not exist.
	Transition(ctx context.Context, id string, to models.DeltaState, at time.Time, committed *models.Cents) (*models.DeltaRequest, error)
}

// MemoryStore is the in-process RequestStore.
type MemoryStore struct {
	mu   sync.RWMutex
	reqs map[string]*models.DeltaRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reqs: make(map[string]*models.DeltaRequest)}
}

func (m *MemoryStore) Create(_ context.Context, r *models.DeltaRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reqs[r.ID]; ok {
		return fmt.Errorf("delta request %s already exists", r.ID)
	}
	m.reqs[r.ID] = cloneRequest(r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.DeltaRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, to models.DeltaState, at time.Time, committed *models.Cents) (*models.DeltaRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if r.State != models.DeltaProposed {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, r.State)
	}
	r.State = to
	resolvedAt := at
	r.ResolvedAt = &resolvedAt
	if committed != nil {
		c := *committed
		r.CommittedCents = &c
	}
	return cloneRequest(r), nil
}

func cloneRequest(r *models.DeltaRequest) *models.DeltaRequest {
	out := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	if r.CommittedCents != nil {
		c := *r.CommittedCents
		out.CommittedCents = &c
	}
	return &out
}
