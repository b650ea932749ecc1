package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory replay store.
type MemoryStore struct {
	mu      sync.RWMutex
	replays map[string]*Replay
}

// NewMemoryStore creates an empty in-memory replay store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{replays: make(map[string]*Replay)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Replay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replays[r.ID] = copyReplay(r)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Replay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.replays[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReplay(r), nil
}

func (m *MemoryStore) MarkViewed(ctx context.Context, id string) error {
	return m.setFlag(id, func(r *Replay) { r.Viewed = true })
}

func (m *MemoryStore) MarkActed(ctx context.Context, id string) error {
	return m.setFlag(id, func(r *Replay) { r.Acted = true })
}

func (m *MemoryStore) setFlag(id string, set func(*Replay)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replays[id]
	if !ok {
		return ErrNotFound
	}
	set(r)
	return nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, r := range m.replays {
		if !r.ExpiresAt.After(now) {
			delete(m.replays, id)
			removed++
		}
	}
	return removed, nil
}

func copyReplay(r *Replay) *Replay {
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	return &cp
}
