// Package profile owns the per-(child, contact) conversational profile.
//
// A ContactProfile accumulates privacy-scrubbed evidence about one contact's
// relationship with one child: inferred tags, behavioral patterns, weekly
// topic aggregates, and the current risk score. Profiles are created lazily
// on first observed interaction and are never deleted; inactive profiles age
// out under the external retention policy.
//
// The contact identifier is always an irreversible hash; the real handle
// never enters this package.
package profile

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the profile store.
var (
	ErrNotFound          = errors.New("profile not found")
	ErrDuplicateEvidence = errors.New("evidence already applied")
)

// SignalKind identifies a discrete risk signal from the keyboard/content layer.
type SignalKind string

const (
	SignalPIIAttempt      SignalKind = "pii_attempt"
	SignalPlatformSwitch  SignalKind = "platform_switch_suggested"
	SignalPersonalQuestion SignalKind = "personal_question"
	SignalOlderContact    SignalKind = "older_contact_signal"
	SignalSelfHarm        SignalKind = "self_harm_indicator"
	SignalExploitation    SignalKind = "explicit_exploitation"
	SignalMessageActivity SignalKind = "message_activity"
)

// TagCategory groups inferred tags.
type TagCategory string

const (
	TagRelationship TagCategory = "relationship"
	TagInterest     TagCategory = "interest"
	TagBehavioral   TagCategory = "behavioral"
	TagRisk         TagCategory = "risk"
)

// Tag is an inferred label with a confidence value.
type Tag struct {
	Name       string      `json:"name"`
	Category   TagCategory `json:"category"`
	Confidence float64     `json:"confidence"` // 0.0 - 1.0
}

// ConversationPatterns aggregates behavioral evidence for one contact.
// All fields are monotonic accumulations so recomputation stays
// order-independent.
type ConversationPatterns struct {
	FirstSeen         time.Time `json:"firstSeen"`
	TotalMessages     int       `json:"totalMessages"`
	PersonalQuestions int       `json:"personalQuestions"`
	LateNightMessages int       `json:"lateNightMessages"` // 22:00 - 06:00 local
	MutualFriendCount int       `json:"mutualFriendCount"`
	HourHistogram     [24]int   `json:"hourHistogram"`
}

// MessagesPerDay derives the daily message rate from the accumulated count.
func (p *ConversationPatterns) MessagesPerDay(now time.Time) float64 {
	if p.FirstSeen.IsZero() || p.TotalMessages == 0 {
		return 0
	}
	days := now.Sub(p.FirstSeen).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(p.TotalMessages) / days
}

// LateNightRatio is the fraction of messages exchanged between 22:00 and 06:00.
func (p *ConversationPatterns) LateNightRatio() float64 {
	if p.TotalMessages == 0 {
		return 0
	}
	return float64(p.LateNightMessages) / float64(p.TotalMessages)
}

// PersonalQuestionRatio is the fraction of messages that were personal questions.
func (p *ConversationPatterns) PersonalQuestionRatio() float64 {
	if p.TotalMessages == 0 {
		return 0
	}
	return float64(p.PersonalQuestions) / float64(p.TotalMessages)
}

// TopicSession is an immutable weekly aggregate of conversation categories.
// Append-only: superseded weeks are retained for the grooming detector's
// trend lookback, never overwritten.
type TopicSession struct {
	ChildID          string                    `json:"childId"`
	ContactHash      string                    `json:"contactHash"`
	WeekStart        time.Time                 `json:"weekStart"`
	WeekEnd          time.Time                 `json:"weekEnd"`
	TopicPercentages map[TopicCategory]float64 `json:"topicPercentages"` // sum <= 1.0
	RiskTopicCount   int                       `json:"riskTopicCount"`
	MessagesFromChild   int                    `json:"messagesFromChild"`
	MessagesFromContact int                    `json:"messagesFromContact"`
}

// SafeTopicRatio sums the percentages of categories at RiskSafe.
func (s *TopicSession) SafeTopicRatio() float64 {
	var sum float64
	for cat, pct := range s.TopicPercentages {
		if cat.RiskLevel() == RiskSafe {
			sum += pct
		}
	}
	return sum
}

// PersonalTopicRatio sums the percentages of personal-category topics.
func (s *TopicSession) PersonalTopicRatio() float64 {
	var sum float64
	for cat, pct := range s.TopicPercentages {
		if cat.IsPersonal() {
			sum += pct
		}
	}
	return sum
}

// Contains reports whether the week saw any of the given categories.
func (s *TopicSession) Contains(cats ...TopicCategory) bool {
	for _, cat := range cats {
		if s.TopicPercentages[cat] > 0 {
			return true
		}
	}
	return false
}

// RiskFactor is a named, signed contribution to a contact's risk score,
// recorded for parent-facing display and audit.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"` // signed: negative terms reduce risk
	Detail string  `json:"detail,omitempty"`
}

// Evidence is one idempotent observation applied to a profile.
// The ID is unique per observation; re-delivery of the same ID is a no-op.
type Evidence struct {
	ID         string     `json:"id"`
	Kind       SignalKind `json:"kind"`
	ObservedAt time.Time  `json:"observedAt"`

	// Optional payloads, depending on Kind.
	Tags              []Tag `json:"tags,omitempty"`
	MessageCount      int   `json:"messageCount,omitempty"`
	PersonalQuestions int   `json:"personalQuestions,omitempty"`
	LateNightMessages int   `json:"lateNightMessages,omitempty"`
	MutualFriends     int   `json:"mutualFriends,omitempty"` // latest observed count, not a delta
}

// StyleVectorLen is the fixed length of the contact style embedding.
const StyleVectorLen = 16

// ContactProfile is the unit of state for one (child, contact-hash) pair.
//
// RiskScore is always the last value computed by the scoring engine from the
// profile's current evidence; nothing else writes it.
type ContactProfile struct {
	ChildID     string `json:"childId"`
	ContactHash string `json:"contactHash"`

	StyleVector []float64            `json:"styleVector"`
	Tags        []Tag                `json:"tags"`
	Patterns    ConversationPatterns `json:"patterns"`
	Sessions    []TopicSession       `json:"sessions"` // ordered by WeekStart, append-only

	RiskScore   float64      `json:"riskScore"`
	TrustScore  float64      `json:"trustScore"`
	RiskFactors []RiskFactor `json:"riskFactors"`

	// FamilyTrust is the propagated sibling trust term, nil when no sibling
	// aged >=13 knows this contact. Written only by the family network.
	FamilyTrust *float64 `json:"familyTrust,omitempty"`

	// GroomingStage is persisted so evidence of grooming is never forgotten.
	GroomingStage     int  `json:"groomingStage"` // 0-3
	GroomingConfirmed bool `json:"groomingConfirmed"`

	// ParentApproved marks contacts a parent explicitly allowed.
	ParentApproved bool `json:"parentApproved"`

	// SignalCounts accumulates applied evidence by kind.
	SignalCounts map[SignalKind]int `json:"signalCounts"`

	// AppliedEvidence holds evidence IDs already folded into this profile.
	AppliedEvidence map[string]struct{} `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertTag merges a tag by name, keeping the highest confidence seen.
// Merge-by-max keeps tag state order-independent under evidence replay.
func (p *ContactProfile) UpsertTag(tag Tag) {
	for i, existing := range p.Tags {
		if existing.Name == tag.Name {
			if tag.Confidence > existing.Confidence {
				p.Tags[i] = tag
			}
			return
		}
	}
	p.Tags = append(p.Tags, tag)
}

// TagConfidence returns the confidence for a named tag, or 0 if absent.
func (p *ContactProfile) TagConfidence(name string) float64 {
	for _, t := range p.Tags {
		if t.Name == name {
			return t.Confidence
		}
	}
	return 0
}

// SignalCount counts applied evidence of one kind.
func (p *ContactProfile) SignalCount(kind SignalKind) int {
	return p.SignalCounts[kind]
}

// RecordSignal bumps the accumulated count for one evidence kind.
func (p *ContactProfile) RecordSignal(kind SignalKind) {
	if p.SignalCounts == nil {
		p.SignalCounts = make(map[SignalKind]int)
	}
	p.SignalCounts[kind]++
}

// Store persists contact profiles.
// Implementations must treat returned profiles as private copies.
type Store interface {
	Get(ctx context.Context, childID, contactHash string) (*ContactProfile, error)
	Put(ctx context.Context, p *ContactProfile) error
	ListByChild(ctx context.Context, childID string) ([]*ContactProfile, error)
	ListByContact(ctx context.Context, contactHash string) ([]*ContactProfile, error)
}
