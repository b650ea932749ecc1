// Package auth provides device-key authentication for the risk engine.
//
// Authentication model:
// - Event ingestion requires a device key issued at device activation
// - A device key is bound to one (family, child) pair
// - Dashboard/feed routes require a key from the same family
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/guardian-os/guardian-risk/internal/idgen"
)

// Errors
var (
	ErrNoDeviceKey      = errors.New("device key required")
	ErrInvalidDeviceKey = errors.New("invalid or expired device key")
	ErrNotFamily        = errors.New("not authorized for this family")
	ErrKeyNotFound      = errors.New("device key not found")
)

// DeviceKey binds one activated device to a monitored child.
type DeviceKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"` // SHA256 hash of key (stored)
	FamilyID  string     `json:"familyId"`
	ChildID   string     `json:"childId"`
	Name      string     `json:"name"` // Friendly device name
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists device keys
type Store interface {
	Create(ctx context.Context, key *DeviceKey) error
	GetByHash(ctx context.Context, hash string) (*DeviceKey, error)
	GetByFamily(ctx context.Context, familyID string) ([]*DeviceKey, error)
	Update(ctx context.Context, key *DeviceKey) error
	Delete(ctx context.Context, id string) error
}

// Manager handles device authentication
type Manager struct {
	store Store
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Activate issues a key for a newly activated device.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) Activate(ctx context.Context, familyID, childID, name string) (rawKey string, key *DeviceKey, err error) {
	rawKey = "dk_" + idgen.Hex(32)

	key = &DeviceKey{
		ID:        idgen.WithPrefix("dev_"),
		Hash:      hashKey(rawKey),
		FamilyID:  familyID,
		ChildID:   childID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}

	return rawKey, key, nil
}

// ValidateKey validates a device key and returns its metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*DeviceKey, error) {
	if rawKey == "" {
		return nil, ErrNoDeviceKey
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)

	if !strings.HasPrefix(rawKey, "dk_") {
		return nil, ErrInvalidDeviceKey
	}

	hash := hashKey(rawKey)
	key, err := m.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, ErrInvalidDeviceKey
	}

	if key.Revoked {
		return nil, ErrInvalidDeviceKey
	}

	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidDeviceKey
	}

	// Update last used (fire and forget)
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns all device keys for a family
func (m *Manager) ListKeys(ctx context.Context, familyID string) ([]*DeviceKey, error) {
	return m.store.GetByFamily(ctx, familyID)
}

// RevokeKey revokes a device key within a family
func (m *Manager) RevokeKey(ctx context.Context, keyID, familyID string) error {
	keys, err := m.store.GetByFamily(ctx, familyID)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}

	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*DeviceKey // by ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*DeviceKey),
	}
}

func (s *MemoryStore) Create(ctx context.Context, key *DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*DeviceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByFamily(ctx context.Context, familyID string) ([]*DeviceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*DeviceKey
	for _, k := range s.keys {
		if k.FamilyID == familyID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}
