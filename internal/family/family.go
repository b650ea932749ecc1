// Package family maintains the cross-child trust and risk view of shared
// contacts. When siblings talk to the same contact, an older child's
// established trust lowers the younger sibling's risk estimate, and any
// child's elevated risk raises the whole family's view of that contact.
package family

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown families, children, or views.
var ErrNotFound = errors.New("family: not found")

// TrustSourceAge is the minimum child age whose trust scores propagate to
// siblings.
const TrustSourceAge = 13

// TrustDecay scales a qualifying sibling's trust before propagation.
const TrustDecay = 0.8

// ContactRole identifies a guardian's position in the escalation chain.
type ContactRole string

const (
	RolePrimary   ContactRole = "primary"
	RoleSecondary ContactRole = "secondary"
	RoleEmergency ContactRole = "emergency"
)

// GuardianContact is one notifiable adult in a family's escalation chain.
type GuardianContact struct {
	Role       ContactRole `json:"role"`
	Name       string      `json:"name"`
	WebhookURL string      `json:"webhookUrl,omitempty"`
	Phone      string      `json:"phone,omitempty"`
}

// Child is a registry entry for one monitored child.
type Child struct {
	ID       string `json:"id"`
	FamilyID string `json:"familyId"`
	Age      int    `json:"age"`
}

// Family groups children under a shared guardian contact chain.
type Family struct {
	ID       string            `json:"id"`
	Children []Child           `json:"children"`
	Contacts []GuardianContact `json:"contacts"`
}

// Contact returns the guardian configured for a role, if any.
func (f *Family) Contact(role ContactRole) (GuardianContact, bool) {
	for _, c := range f.Contacts {
		if c.Role == role {
			return c, true
		}
	}
	return GuardianContact{}, false
}

// Registry resolves family membership, child ages, and guardian contact
// chains. Backed by the external family-management layer.
type Registry interface {
	Family(ctx context.Context, familyID string) (*Family, error)
	Child(ctx context.Context, childID string) (*Child, error)
	FamilyOf(ctx context.Context, childID string) (*Family, error)
}

// ChildView is one child's contribution to a family contact view.
type ChildView struct {
	ChildID string  `json:"childId"`
	Age     int     `json:"age"`
	Risk    float64 `json:"risk"`
	Trust   float64 `json:"trust"`
}

// ContactView is the family-wide aggregate for one shared contact.
//
// FamilyRisk is the maximum risk across all children who know the contact.
// FamilyTrust is TrustDecay times the highest trust held by a child aged
// TrustSourceAge or older, or nil when no child qualifies.
type ContactView struct {
	FamilyID    string      `json:"familyId"`
	ContactHash string      `json:"contactHash"`
	FamilyTrust *float64    `json:"familyTrust,omitempty"`
	FamilyRisk  float64     `json:"familyRisk"`
	Children    []ChildView `json:"children"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ViewStore persists family contact views.
type ViewStore interface {
	Get(ctx context.Context, familyID, contactHash string) (*ContactView, error)
	Put(ctx context.Context, v *ContactView) error
	ListByFamily(ctx context.Context, familyID string) ([]*ContactView, error)
}
