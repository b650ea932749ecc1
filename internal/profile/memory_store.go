package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// It hands out deep copies so callers can never mutate stored state outside
// the service's critical sections.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*ContactProfile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*ContactProfile)}
}

func memKey(childID, contactHash string) string {
	return childID + "/" + contactHash
}

func (m *MemoryStore) Get(ctx context.Context, childID, contactHash string) (*ContactProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[memKey(childID, contactHash)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

func (m *MemoryStore) Put(ctx context.Context, p *ContactProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[memKey(p.ChildID, p.ContactHash)] = copyProfile(p)
	return nil
}

func (m *MemoryStore) ListByChild(ctx context.Context, childID string) ([]*ContactProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ContactProfile
	for _, p := range m.profiles {
		if p.ChildID == childID {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByContact(ctx context.Context, contactHash string) ([]*ContactProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ContactProfile
	for _, p := range m.profiles {
		if p.ContactHash == contactHash {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func copyProfile(p *ContactProfile) *ContactProfile {
	cp := *p

	cp.StyleVector = append([]float64(nil), p.StyleVector...)
	cp.Tags = append([]Tag(nil), p.Tags...)
	cp.Sessions = append([]TopicSession(nil), p.Sessions...)
	cp.RiskFactors = append([]RiskFactor(nil), p.RiskFactors...)

	for i, s := range cp.Sessions {
		if s.TopicPercentages != nil {
			tp := make(map[TopicCategory]float64, len(s.TopicPercentages))
			for k, v := range s.TopicPercentages {
				tp[k] = v
			}
			cp.Sessions[i].TopicPercentages = tp
		}
	}

	if p.FamilyTrust != nil {
		ft := *p.FamilyTrust
		cp.FamilyTrust = &ft
	}

	cp.SignalCounts = make(map[SignalKind]int, len(p.SignalCounts))
	for k, v := range p.SignalCounts {
		cp.SignalCounts[k] = v
	}
	cp.AppliedEvidence = make(map[string]struct{}, len(p.AppliedEvidence))
	for id := range p.AppliedEvidence {
		cp.AppliedEvidence[id] = struct{}{}
	}
	return &cp
}
