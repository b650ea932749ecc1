package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestActivate(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.Activate(ctx, "fam-00001", "child-0001", "Kid's phone")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Check raw key format
	if !strings.HasPrefix(rawKey, "dk_") {
		t.Errorf("Expected raw key to start with dk_, got %s", rawKey[:10])
	}
	if len(rawKey) != 67 { // "dk_" + 64 hex chars
		t.Errorf("Expected raw key length 67, got %d", len(rawKey))
	}

	// Check key metadata
	if !strings.HasPrefix(key.ID, "dev_") {
		t.Errorf("Expected key ID to start with dev_, got %s", key.ID)
	}
	if key.FamilyID != "fam-00001" || key.ChildID != "child-0001" {
		t.Errorf("Expected family/child binding, got %s/%s", key.FamilyID, key.ChildID)
	}
	if key.Name != "Kid's phone" {
		t.Errorf("Expected name 'Kid's phone', got %s", key.Name)
	}
}

func TestValidateKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, _, err := mgr.Activate(ctx, "fam-00001", "child-0001", "Tablet")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	key, err := mgr.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Errorf("ValidateKey failed for valid key: %v", err)
	}
	if key.ChildID != "child-0001" {
		t.Errorf("Expected child-0001, got %s", key.ChildID)
	}

	// Validate with Bearer prefix
	if _, err := mgr.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey failed for Bearer-prefixed key: %v", err)
	}

	// Empty key
	if _, err := mgr.ValidateKey(ctx, ""); err != ErrNoDeviceKey {
		t.Errorf("Expected ErrNoDeviceKey, got %v", err)
	}

	// Wrong prefix
	if _, err := mgr.ValidateKey(ctx, "sk_abc123"); err != ErrInvalidDeviceKey {
		t.Errorf("Expected ErrInvalidDeviceKey for wrong prefix, got %v", err)
	}

	// Unknown key
	if _, err := mgr.ValidateKey(ctx, "dk_"+strings.Repeat("0", 64)); err != ErrInvalidDeviceKey {
		t.Errorf("Expected ErrInvalidDeviceKey for unknown key, got %v", err)
	}
}

func TestValidateRevokedKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.Activate(ctx, "fam-00001", "child-0001", "Phone")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := mgr.RevokeKey(ctx, key.ID, "fam-00001"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidDeviceKey {
		t.Errorf("Expected ErrInvalidDeviceKey for revoked key, got %v", err)
	}
}

func TestValidateExpiredKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.Activate(ctx, "fam-00001", "child-0001", "Phone")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidDeviceKey {
		t.Errorf("Expected ErrInvalidDeviceKey for expired key, got %v", err)
	}
}

func TestRevokeKeyWrongFamily(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	_, key, err := mgr.Activate(ctx, "fam-00001", "child-0001", "Phone")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := mgr.RevokeKey(ctx, key.ID, "fam-00002"); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound revoking from another family, got %v", err)
	}
}

func TestListKeys(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	for _, child := range []string{"child-0001", "child-0002"} {
		if _, _, err := mgr.Activate(ctx, "fam-00001", child, "Phone"); err != nil {
			t.Fatalf("Activate failed: %v", err)
		}
	}
	if _, _, err := mgr.Activate(ctx, "fam-00002", "child-0009", "Phone"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	keys, err := mgr.ListKeys(ctx, "fam-00001")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys for fam-00001, got %d", len(keys))
	}
}
