// Package alerts maps risk assessments to tiered parent alerts and applies
// the suppression rules that keep routine events out of the feed.
package alerts

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown alert IDs.
var ErrNotFound = errors.New("alerts: not found")

// Tier orders alert severities.
type Tier string

const (
	TierDigest    Tier = "digest"
	TierNote      Tier = "note"
	TierElevated  Tier = "elevated"
	TierHigh      Tier = "high"
	TierCritical  Tier = "critical"
	TierEmergency Tier = "emergency"
)

// rank orders tiers for comparisons.
func (t Tier) rank() int {
	switch t {
	case TierDigest:
		return 0
	case TierNote:
		return 1
	case TierElevated:
		return 2
	case TierHigh:
		return 3
	case TierCritical:
		return 4
	case TierEmergency:
		return 5
	}
	return -1
}

// AtLeast reports whether t is the same or a higher tier than other.
func (t Tier) AtLeast(other Tier) bool {
	return t.rank() >= other.rank()
}

// Escalates reports whether alerts at this tier start an escalation run.
func (t Tier) Escalates() bool {
	return t == TierCritical || t == TierEmergency
}

// Trigger classifies what produced an alert.
type Trigger string

const (
	TriggerRiskThreshold     Trigger = "risk_threshold"
	TriggerGroomingConfirmed Trigger = "grooming_pattern_confirmed"
	TriggerSelfHarm          Trigger = "self_harm_indicator"
	TriggerExploitation      Trigger = "explicit_exploitation"
	TriggerPlatformSwitch    Trigger = "platform_switch_suggested"
	TriggerStageAdvance      Trigger = "grooming_stage_advance"
	TriggerDailyDigest       Trigger = "daily_digest"
)

// ForcesEmergency reports whether the trigger maps straight to the
// Emergency tier regardless of the numeric score. Suppression never applies
// to these.
func (tr Trigger) ForcesEmergency() bool {
	switch tr {
	case TriggerGroomingConfirmed, TriggerSelfHarm, TriggerExploitation:
		return true
	}
	return false
}

// Alert is immutable once emitted; only the acknowledgement fields change.
type Alert struct {
	ID                string     `json:"id"`
	Tier              Tier       `json:"tier"`
	FamilyID          string     `json:"familyId"`
	ChildID           string     `json:"childId"`
	ContactHash       string     `json:"contactHash,omitempty"`
	Trigger           Trigger    `json:"trigger"`
	RiskScore         float64    `json:"riskScore"`
	Summary           string     `json:"summary"`
	RecommendedAction string     `json:"recommendedAction,omitempty"`
	ReplayID          string     `json:"replayId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	Acknowledged      bool       `json:"acknowledged"`
	AcknowledgedAt    *time.Time `json:"acknowledgedAt,omitempty"`
}

// RecommendedAction is the parent-facing guidance attached per tier.
func RecommendedAction(tier Tier, trigger Trigger) string {
	if trigger == TriggerSelfHarm {
		return "check_in_with_child_now"
	}
	switch tier {
	case TierNote:
		return "review_contact"
	case TierElevated:
		return "discuss_with_child"
	case TierHigh:
		return "review_conversation"
	case TierCritical:
		return "restrict_contact"
	case TierEmergency:
		return "immediate_intervention"
	}
	return ""
}

// Store persists alerts.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)

	// Acknowledge marks an alert acknowledged at the given time. Already
	// acknowledged alerts keep their original timestamp; the call is a
	// no-op that still returns the alert.
	Acknowledge(ctx context.Context, id string, at time.Time) (*Alert, error)

	// SetReplay links a captured replay to the alert.
	SetReplay(ctx context.Context, id, replayID string) error

	// ListByFamily returns up to limit alerts for a family, newest first,
	// starting after the (createdAt, id) cursor position when given.
	ListByFamily(ctx context.Context, familyID string, before *time.Time, beforeID string, limit int) ([]*Alert, error)

	// ExistsSince reports whether the (child, contact, trigger) triple has
	// already alerted at or after the given time.
	ExistsSince(ctx context.Context, childID, contactHash string, trigger Trigger, since time.Time) (bool, error)
}
