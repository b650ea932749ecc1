// Package replay captures conversation evidence for high-risk events and
// enforces tier-based retention. Capture is best-effort: a failed write is
// logged and the triggering alert still fires. The periodic sweep is the
// only deletion path; there is no manual early delete.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/profile"
)

// ErrNotFound is returned for unknown or expired replays.
var ErrNotFound = errors.New("replay: not found")

// CaptureThreshold is the risk score above which content is retained.
const CaptureThreshold = 0.6

// Retention windows by alert tier.
const (
	RetentionHigh      = 72 * time.Hour
	RetentionCritical  = 7 * 24 * time.Hour
	RetentionEmergency = 30 * 24 * time.Hour
)

// Message is one captured conversation message with its risk annotations.
type Message struct {
	Sender     string    `json:"sender"` // "child" or "contact"
	SentAt     time.Time `json:"sentAt"`
	Content    string    `json:"content"`
	Highlights []string  `json:"highlights,omitempty"`
}

// Replay is a captured conversation window.
type Replay struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alertId,omitempty"`
	ChildID     string    `json:"childId"`
	ContactHash string    `json:"contactHash"`
	Reason      string    `json:"reason"`
	Messages    []Message `json:"messages"`
	CapturedAt  time.Time `json:"capturedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Viewed      bool      `json:"viewed"`
	Acted       bool      `json:"acted"`
}

// ShouldCapture reports whether an event's content is retained: risk above
// the default capture threshold, or any critical-level topic in the window.
func ShouldCapture(riskScore float64, topics []profile.TopicCategory) bool {
	return shouldCapture(CaptureThreshold, riskScore, topics)
}

func shouldCapture(threshold, riskScore float64, topics []profile.TopicCategory) bool {
	if riskScore > threshold {
		return true
	}
	for _, t := range topics {
		if t.RiskLevel() >= profile.RiskCritical {
			return true
		}
	}
	return false
}

// RetentionFor maps an alert tier to its retention window. Grooming-confirmed
// events alert at Emergency and get the longest window through that tier.
func RetentionFor(tier alerts.Tier) time.Duration {
	switch {
	case tier.AtLeast(alerts.TierEmergency):
		return RetentionEmergency
	case tier.AtLeast(alerts.TierCritical):
		return RetentionCritical
	default:
		return RetentionHigh
	}
}

// Store persists replays.
type Store interface {
	Create(ctx context.Context, r *Replay) error
	Get(ctx context.Context, id string) (*Replay, error)
	MarkViewed(ctx context.Context, id string) error
	MarkActed(ctx context.Context, id string) error

	// DeleteExpired removes replays whose expiry is at or before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
