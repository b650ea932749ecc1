package alerts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory alert store for tests and single-node use.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func (m *MemoryStore) Create(ctx context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Acknowledge(ctx context.Context, id string, at time.Time) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		t := at
		a.AcknowledgedAt = &t
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) SetReplay(ctx context.Context, id, replayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.ReplayID = replayID
	return nil
}

func (m *MemoryStore) ListByFamily(ctx context.Context, familyID string, before *time.Time, beforeID string, limit int) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Alert
	for _, a := range m.alerts {
		if a.FamilyID != familyID {
			continue
		}
		if before != nil {
			if a.CreatedAt.After(*before) {
				continue
			}
			if a.CreatedAt.Equal(*before) && a.ID >= beforeID {
				continue
			}
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ExistsSince(ctx context.Context, childID, contactHash string, trigger Trigger, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.ChildID == childID && a.ContactHash == contactHash && a.Trigger == trigger && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
