package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

// MemoryStore keeps sessions in memory. Used by tests and as the backing
// for ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]*models.AgentState
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]*models.AgentState),
		records: make(map[string]Record),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, state *models.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec, ok := s.records[state.ThreadID]
	if !ok {
		rec = Record{ThreadID: state.ThreadID, CreatedAt: now}
	}
	rec.UpdatedAt = now
	rec.MessageCount = len(state.Messages)
	s.records[state.ThreadID] = rec
	s.states[state.ThreadID] = state.Clone()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, threadID string) (*models.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	delete(s.records, threadID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// NoopStore discards everything. It is the persistence-off toggle: call
// sites keep calling Save/Load unchanged.
type NoopStore struct{}

// NewNoopStore creates a store that persists nothing.
func NewNoopStore() *NoopStore { return &NoopStore{} }

// Save implements Store.
func (NoopStore) Save(ctx context.Context, state *models.AgentState) error { return nil }

// Load implements Store.
func (NoopStore) Load(ctx context.Context, threadID string) (*models.AgentState, error) {
	return nil, ErrNotFound
}

// List implements Store.
func (NoopStore) List(ctx context.Context) ([]Record, error) { return nil, nil }

// Delete implements Store.
func (NoopStore) Delete(ctx context.Context, threadID string) error { return nil }

// Close implements Store.
func (NoopStore) Close() error { return nil }
