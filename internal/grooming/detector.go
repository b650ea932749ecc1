// Package grooming implements the staged grooming pattern detector.
//
// Predatory contact follows a recognizable arc: establish trust on safe
// ground, shift conversation personal, push for secrecy, then escalate to
// requests for location, photos, or meetings. The detector models that arc
// as a four-stage state machine over a contact's weekly topic trend. Stages
// only ever advance; once the exploitation stage is confirmed it stays
// confirmed for the life of the profile.
package grooming

import (
	"time"

	"github.com/guardian-os/guardian-risk/internal/profile"
)

// Stage positions in the escalation model.
const (
	StageTrustBuilding   = 0
	StageBoundaryTesting = 1
	StageIsolation       = 2
	StageExploitation    = 3
)

// StageName returns the display label for a stage.
func StageName(stage int) string {
	switch stage {
	case StageTrustBuilding:
		return "trust_building"
	case StageBoundaryTesting:
		return "boundary_testing"
	case StageIsolation:
		return "isolation"
	case StageExploitation:
		return "exploitation"
	default:
		return "unknown"
	}
}

// Config tunes the detector's transition thresholds.
type Config struct {
	// SafeRatioThreshold is the minimum safe-topic ratio for a week to count
	// as deliberate trust-building.
	SafeRatioThreshold float64

	// RecentContactWindow bounds how old a contact can be for safe-heavy
	// weeks to look like trust-building rather than an ordinary friendship.
	RecentContactWindow time.Duration

	// PersonalShiftDelta is the week-over-week rise in personal-topic ratio
	// that marks a boundary-testing shift.
	PersonalShiftDelta float64

	// MinWeeks of history required before any transition fires.
	MinWeeks int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SafeRatioThreshold:  0.8,
		RecentContactWindow: 14 * 24 * time.Hour,
		PersonalShiftDelta:  0.15,
		MinWeeks:            2,
	}
}

// Detector evaluates grooming stage transitions. Stateless: the persisted
// stage lives on the profile, and Evaluate is pure given the profile's
// session history.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	if cfg.MinWeeks <= 0 {
		cfg.MinWeeks = 2
	}
	return &Detector{cfg: cfg}
}

// Evaluate inspects the latest appended week against the profile's stage and
// returns the stage the profile should now hold. Called exactly once per
// topic session append; stage transitions are weekly-granularity.
//
// A single week may satisfy several consecutive conditions, so transitions
// cascade: a brand-new contact whose second week both shifts personal and
// pushes secrecy lands at the isolation stage in one evaluation.
func (d *Detector) Evaluate(p *profile.ContactProfile) profile.StageResult {
	res := profile.StageResult{
		Stage:     p.GroomingStage,
		Confirmed: p.GroomingConfirmed,
	}

	n := len(p.Sessions)
	if n < d.cfg.MinWeeks {
		return res
	}

	week := &p.Sessions[n-1]
	prev := &p.Sessions[n-2]

	for {
		next, ok := d.advance(p, res.Stage, week, prev)
		if !ok {
			break
		}
		res.Stage = next
		res.Advanced = true
	}

	if res.Stage == StageExploitation && week.Contains(profile.ExploitationCategories...) {
		res.Confirmed = true
	}
	return res
}

func (d *Detector) advance(p *profile.ContactProfile, stage int, week, prev *profile.TopicSession) (int, bool) {
	switch stage {
	case StageTrustBuilding:
		if week.SafeTopicRatio() > d.cfg.SafeRatioThreshold && d.recentlyEstablished(p, week) {
			return StageBoundaryTesting, true
		}
	case StageBoundaryTesting:
		if week.PersonalTopicRatio()-prev.PersonalTopicRatio() > d.cfg.PersonalShiftDelta {
			return StageIsolation, true
		}
	case StageIsolation:
		if week.Contains(profile.TopicSecrecy) {
			return StageExploitation, true
		}
	}
	return stage, false
}

func (d *Detector) recentlyEstablished(p *profile.ContactProfile, week *profile.TopicSession) bool {
	ref := week.WeekEnd
	if ref.IsZero() {
		ref = week.WeekStart
	}
	if ref.IsZero() || p.Patterns.FirstSeen.IsZero() {
		return false
	}
	return ref.Sub(p.Patterns.FirstSeen) <= d.cfg.RecentContactWindow
}
