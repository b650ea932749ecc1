// Package ingest receives privacy-scrubbed events from the on-device layer
// and drives them through the full evaluation pipeline: profile update,
// score recomputation, family trust propagation, alert generation, and the
// escalation / replay / notification fan-out.
//
// Two event shapes arrive here: discrete risk signals (one observation, one
// idempotency ID) and weekly topic-session aggregates. Raw message content
// only appears in the optional capture window and is retained solely through
// the replay store's tiered expiry.
package ingest

import (
	"errors"
	"time"

	"github.com/guardian-os/guardian-risk/internal/profile"
	"github.com/guardian-os/guardian-risk/internal/replay"
	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Sentinel errors for event processing.
var (
	ErrUnknownChild = errors.New("ingest: child not registered")
)

// knownSignalKinds rejects kinds the profile layer has no accumulator for.
var knownSignalKinds = map[profile.SignalKind]bool{
	profile.SignalPIIAttempt:       true,
	profile.SignalPlatformSwitch:   true,
	profile.SignalPersonalQuestion: true,
	profile.SignalOlderContact:     true,
	profile.SignalSelfHarm:         true,
	profile.SignalExploitation:     true,
	profile.SignalMessageActivity:  true,
}

// TagInput is an inferred tag attached to a signal event.
type TagInput struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// SignalEvent is one discrete risk observation from the device.
// EventID is the producer's idempotency key: re-delivery is a no-op.
type SignalEvent struct {
	EventID     string    `json:"eventId"`
	ChildID     string    `json:"childId"`
	ContactHash string    `json:"contactHash"`
	Kind        string    `json:"kind"`
	ObservedAt  time.Time `json:"observedAt"`

	Tags              []TagInput `json:"tags,omitempty"`
	MessageCount      int        `json:"messageCount,omitempty"`
	PersonalQuestions int        `json:"personalQuestions,omitempty"`
	LateNightMessages int        `json:"lateNightMessages,omitempty"`
	MutualFriends     int        `json:"mutualFriends,omitempty"`

	// Educational marks signals observed in a supervised learning context.
	Educational bool `json:"educational,omitempty"`

	// Messages is the surrounding conversation window, present only when the
	// device judged the signal severe enough to offer capture material.
	Messages []replay.Message `json:"messages,omitempty"`
}

// Validate checks field shape before any state is touched.
func (e *SignalEvent) Validate() error {
	errs := validation.Validate(
		validation.Required("eventId", e.EventID),
		validation.ID("childId", e.ChildID),
		validation.ContactHash("contactHash", e.ContactHash),
		validation.Required("kind", e.Kind),
	)
	if len(errs) > 0 {
		return errs
	}
	if !knownSignalKinds[profile.SignalKind(e.Kind)] {
		return validation.ValidationErrors{{Field: "kind", Message: "unknown signal kind"}}
	}
	for _, tag := range e.Tags {
		if err := validation.Validate(
			validation.Required("tags.name", tag.Name),
			validation.Fraction("tags.confidence", tag.Confidence),
		); len(err) > 0 {
			return err
		}
	}
	return nil
}

// evidence maps the wire event onto a profile evidence item.
func (e *SignalEvent) evidence() profile.Evidence {
	ev := profile.Evidence{
		ID:                e.EventID,
		Kind:              profile.SignalKind(e.Kind),
		ObservedAt:        e.ObservedAt,
		MessageCount:      e.MessageCount,
		PersonalQuestions: e.PersonalQuestions,
		LateNightMessages: e.LateNightMessages,
		MutualFriends:     e.MutualFriends,
	}
	for _, tag := range e.Tags {
		ev.Tags = append(ev.Tags, profile.Tag{
			Name:       tag.Name,
			Category:   profile.TagCategory(tag.Category),
			Confidence: tag.Confidence,
		})
	}
	return ev
}

// TopicSessionEvent is one weekly conversation aggregate from the
// on-device topic classifier.
type TopicSessionEvent struct {
	ChildID     string    `json:"childId"`
	ContactHash string    `json:"contactHash"`
	WeekStart   time.Time `json:"weekStart"`
	WeekEnd     time.Time `json:"weekEnd"`

	TopicPercentages    map[string]float64 `json:"topicPercentages"`
	RiskTopicCount      int                `json:"riskTopicCount"`
	MessagesFromChild   int                `json:"messagesFromChild"`
	MessagesFromContact int                `json:"messagesFromContact"`

	Educational bool `json:"educational,omitempty"`

	Messages []replay.Message `json:"messages,omitempty"`
}

// Validate checks field shape. Topic percentages must each be a fraction and
// sum to at most 1.0; the classifier may omit residual chatter.
func (e *TopicSessionEvent) Validate() error {
	errs := validation.Validate(
		validation.ID("childId", e.ChildID),
		validation.ContactHash("contactHash", e.ContactHash),
	)
	if len(errs) > 0 {
		return errs
	}
	if e.WeekStart.IsZero() || e.WeekEnd.IsZero() || !e.WeekEnd.After(e.WeekStart) {
		return validation.ValidationErrors{{Field: "weekStart", Message: "week window is required and weekEnd must follow weekStart"}}
	}
	var sum float64
	for topic, pct := range e.TopicPercentages {
		if err := validation.Validate(validation.Fraction("topicPercentages."+topic, pct)); len(err) > 0 {
			return err
		}
		sum += pct
	}
	if sum > 1.0+1e-9 {
		return validation.ValidationErrors{{Field: "topicPercentages", Message: "percentages must sum to at most 1.0"}}
	}
	return nil
}

// session maps the wire event onto a profile topic session.
func (e *TopicSessionEvent) session() profile.TopicSession {
	s := profile.TopicSession{
		ChildID:             e.ChildID,
		ContactHash:         e.ContactHash,
		WeekStart:           e.WeekStart,
		WeekEnd:             e.WeekEnd,
		TopicPercentages:    make(map[profile.TopicCategory]float64, len(e.TopicPercentages)),
		RiskTopicCount:      e.RiskTopicCount,
		MessagesFromChild:   e.MessagesFromChild,
		MessagesFromContact: e.MessagesFromContact,
	}
	for topic, pct := range e.TopicPercentages {
		s.TopicPercentages[profile.TopicCategory(topic)] = pct
	}
	return s
}

// topics lists the categories seen this week, for the capture decision.
func (e *TopicSessionEvent) topics() []profile.TopicCategory {
	out := make([]profile.TopicCategory, 0, len(e.TopicPercentages))
	for topic, pct := range e.TopicPercentages {
		if pct > 0 {
			out = append(out, profile.TopicCategory(topic))
		}
	}
	return out
}
