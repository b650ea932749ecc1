package family

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-node
// deployments where the family roster is loaded at startup.
type MemoryRegistry struct {
	mu       sync.RWMutex
	families map[string]*Family
	byChild  map[string]string
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		families: make(map[string]*Family),
		byChild:  make(map[string]string),
	}
}

// Register adds or replaces a family.
func (r *MemoryRegistry) Register(f *Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyFamily(f)
	r.families[f.ID] = cp
	for _, c := range cp.Children {
		r.byChild[c.ID] = f.ID
	}
}

func (r *MemoryRegistry) Family(ctx context.Context, familyID string) (*Family, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[familyID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFamily(f), nil
}

func (r *MemoryRegistry) Child(ctx context.Context, childID string) (*Child, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	familyID, ok := r.byChild[childID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, c := range r.families[familyID].Children {
		if c.ID == childID {
			child := c
			return &child, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRegistry) FamilyOf(ctx context.Context, childID string) (*Family, error) {
	r.mu.RLock()
	familyID, ok := r.byChild[childID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.Family(ctx, familyID)
}

func copyFamily(f *Family) *Family {
	cp := *f
	cp.Children = append([]Child(nil), f.Children...)
	cp.Contacts = append([]GuardianContact(nil), f.Contacts...)
	return &cp
}

// MemoryViewStore is an in-memory ViewStore.
type MemoryViewStore struct {
	mu    sync.RWMutex
	views map[string]*ContactView
}

// NewMemoryViewStore creates an empty view store.
func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{views: make(map[string]*ContactView)}
}

func viewKey(familyID, contactHash string) string {
	return familyID + "/" + contactHash
}

func (m *MemoryViewStore) Get(ctx context.Context, familyID, contactHash string) (*ContactView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[viewKey(familyID, contactHash)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyView(v), nil
}

func (m *MemoryViewStore) Put(ctx context.Context, v *ContactView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[viewKey(v.FamilyID, v.ContactHash)] = copyView(v)
	return nil
}

func (m *MemoryViewStore) ListByFamily(ctx context.Context, familyID string) ([]*ContactView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ContactView
	for _, v := range m.views {
		if v.FamilyID == familyID {
			out = append(out, copyView(v))
		}
	}
	return out, nil
}

func copyView(v *ContactView) *ContactView {
	cp := *v
	cp.Children = append([]ChildView(nil), v.Children...)
	if v.FamilyTrust != nil {
		t := *v.FamilyTrust
		cp.FamilyTrust = &t
	}
	return &cp
}
