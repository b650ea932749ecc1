// Package scoring implements the bounded contact risk scoring engine.
//
// The score starts at zero, subtracts for trust-reducing evidence, adds for
// risk evidence, and clamps to [0, 1]. A confirmed grooming pattern forces
// the score to 1.0 regardless of any trust terms. Recomputation is pure
// given the profile and the engine's fixed clock, so the same evidence
// always produces the same score and factor set.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/guardian-os/guardian-risk/internal/profile"
)

// Trust-reducing term weights. Factors carry these as negative weights.
const (
	weightKnownRelationship = 0.20
	weightLongTenure        = 0.15
	weightMutualFriends     = 0.15
	weightFamilyTrust       = 0.30
)

// Risk term weights.
const (
	weightPersonalQuestions = 0.25
	weightPlatformSwitch    = 0.30
	weightOlderContact      = 0.25
	weightLateNight         = 0.20
	weightNewHighFrequency  = 0.25
	weightPersonalTopics    = 0.20
	weightPIIAttempts       = 0.20
	weightSelfHarm          = 0.35
	weightExploitSignal     = 0.50
	weightGroomingStage     = 0.10 // per stage
)

// Trigger thresholds. Terms below their threshold contribute nothing and
// record no factor.
const (
	tagConfidenceThreshold     = 0.6
	longTenure                 = 90 * 24 * time.Hour
	mutualFriendThreshold      = 3
	personalQuestionThreshold  = 0.15
	lateNightThreshold         = 0.30
	newContactWindow           = 14 * 24 * time.Hour
	highFrequencyPerDay        = 30.0
	personalTopicThreshold     = 0.40
	personalTopicLookbackWeeks = 4
)

// Engine recomputes risk and trust from a profile's accumulated evidence.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock overrides the time source (for tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Recompute produces the profile's current score, trust, and factor list.
func (e *Engine) Recompute(p *profile.ContactProfile) profile.Assessment {
	if p.GroomingConfirmed {
		return profile.Assessment{
			Score: 1.0,
			Trust: 0.0,
			Factors: []profile.RiskFactor{{
				Name:   "grooming_pattern_confirmed",
				Weight: 1.0,
				Detail: "confirmed multi-stage grooming pattern",
			}},
		}
	}

	now := e.now()
	var factors []profile.RiskFactor
	add := func(name string, weight float64, detail string) {
		factors = append(factors, profile.RiskFactor{Name: name, Weight: weight, Detail: detail})
	}

	var score float64

	// Trust-reducing terms.
	var trustGain float64
	if tag, ok := e.strongRelationshipTag(p); ok {
		score -= weightKnownRelationship
		trustGain += weightKnownRelationship
		add("known_relationship", -weightKnownRelationship,
			fmt.Sprintf("%s tag at %.2f confidence", tag.Name, tag.Confidence))
	}
	if tenure := now.Sub(p.Patterns.FirstSeen); !p.Patterns.FirstSeen.IsZero() && tenure >= longTenure {
		score -= weightLongTenure
		trustGain += weightLongTenure
		add("long_tenure", -weightLongTenure,
			fmt.Sprintf("contact known for %d days", int(tenure.Hours()/24)))
	}
	if p.Patterns.MutualFriendCount >= mutualFriendThreshold {
		score -= weightMutualFriends
		trustGain += weightMutualFriends
		add("mutual_friends", -weightMutualFriends,
			fmt.Sprintf("%d mutual friends", p.Patterns.MutualFriendCount))
	}
	if p.FamilyTrust != nil && *p.FamilyTrust > 0 {
		w := *p.FamilyTrust * weightFamilyTrust
		score -= w
		trustGain += w
		add("family_trust", -w,
			fmt.Sprintf("trusted by an older sibling (%.2f)", *p.FamilyTrust))
	}

	// Risk terms.
	if r := p.Patterns.PersonalQuestionRatio(); r > personalQuestionThreshold {
		score += weightPersonalQuestions
		add("personal_questions", weightPersonalQuestions,
			fmt.Sprintf("%.0f%% of messages are personal questions", r*100))
	}
	if n := p.SignalCount(profile.SignalPlatformSwitch); n > 0 {
		score += weightPlatformSwitch
		add("platform_switch_suggested", weightPlatformSwitch,
			fmt.Sprintf("suggested moving to an unmonitored platform %d time(s)", n))
	}
	if p.SignalCount(profile.SignalOlderContact) > 0 {
		score += weightOlderContact
		add("older_contact", weightOlderContact, "language analysis suggests an older contact")
	}
	if r := p.Patterns.LateNightRatio(); r > lateNightThreshold {
		score += weightLateNight
		add("late_night_contact", weightLateNight,
			fmt.Sprintf("%.0f%% of messages between 22:00 and 06:00", r*100))
	}
	if e.isNewHighFrequency(p, now) {
		score += weightNewHighFrequency
		add("new_high_frequency", weightNewHighFrequency,
			fmt.Sprintf("%.0f messages/day from a contact first seen %d days ago",
				p.Patterns.MessagesPerDay(now), int(now.Sub(p.Patterns.FirstSeen).Hours()/24)))
	}
	if r := e.recentPersonalTopicRatio(p); r > personalTopicThreshold {
		score += weightPersonalTopics
		add("personal_topics", weightPersonalTopics,
			fmt.Sprintf("%.0f%% personal topics over recent weeks", r*100))
	}
	if n := p.SignalCount(profile.SignalPIIAttempt); n > 0 {
		score += weightPIIAttempts
		add("pii_attempts", weightPIIAttempts,
			fmt.Sprintf("%d attempt(s) to elicit personal information", n))
	}
	if p.SignalCount(profile.SignalSelfHarm) > 0 {
		score += weightSelfHarm
		add("self_harm_indicator", weightSelfHarm, "self-harm indicators in conversation")
	}
	if p.SignalCount(profile.SignalExploitation) > 0 {
		score += weightExploitSignal
		add("exploitation_signal", weightExploitSignal, "explicit exploitation signal")
	}
	if p.GroomingStage > 0 {
		w := float64(p.GroomingStage) * weightGroomingStage
		score += w
		add("grooming_stage", w, fmt.Sprintf("grooming detector at stage %d", p.GroomingStage))
	}

	return profile.Assessment{
		Score:   round3(clamp01(score)),
		Trust:   round3(e.trust(trustGain, score)),
		Factors: factors,
	}
}

// strongRelationshipTag returns the highest-confidence relationship tag at or
// above the confidence threshold.
func (e *Engine) strongRelationshipTag(p *profile.ContactProfile) (profile.Tag, bool) {
	var best profile.Tag
	var found bool
	for _, tag := range p.Tags {
		if tag.Category != profile.TagRelationship || tag.Confidence < tagConfidenceThreshold {
			continue
		}
		if !found || tag.Confidence > best.Confidence {
			best = tag
			found = true
		}
	}
	return best, found
}

func (e *Engine) isNewHighFrequency(p *profile.ContactProfile, now time.Time) bool {
	if p.Patterns.FirstSeen.IsZero() {
		return false
	}
	return now.Sub(p.Patterns.FirstSeen) < newContactWindow &&
		p.Patterns.MessagesPerDay(now) > highFrequencyPerDay
}

// recentPersonalTopicRatio averages the personal-topic ratio over the last
// few weekly sessions.
func (e *Engine) recentPersonalTopicRatio(p *profile.ContactProfile) float64 {
	n := len(p.Sessions)
	if n == 0 {
		return 0
	}
	start := n - personalTopicLookbackWeeks
	if start < 0 {
		start = 0
	}
	var sum float64
	for i := start; i < n; i++ {
		sum += p.Sessions[i].PersonalTopicRatio()
	}
	return sum / float64(n-start)
}

// trust derives the parent-facing trust value: baseline 0.5, raised by the
// trust terms that fired and pulled down by the raw (pre-clamp) risk total.
func (e *Engine) trust(trustGain, rawScore float64) float64 {
	t := 0.5 + trustGain
	if rawScore > 0 {
		t -= rawScore * 0.3
	}
	return clamp01(t)
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
