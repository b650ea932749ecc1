package grooming

import (
	"testing"
	"time"

	"github.com/guardian-os/guardian-risk/internal/profile"
)

var week0 = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func weekSession(n int, topics map[profile.TopicCategory]float64) profile.TopicSession {
	start := week0.AddDate(0, 0, 7*n)
	return profile.TopicSession{
		WeekStart:        start,
		WeekEnd:          start.AddDate(0, 0, 7),
		TopicPercentages: topics,
	}
}

func newProfile(firstSeen time.Time, sessions ...profile.TopicSession) *profile.ContactProfile {
	return &profile.ContactProfile{
		ChildID:     "child-1",
		ContactHash: "feedface",
		Patterns:    profile.ConversationPatterns{FirstSeen: firstSeen},
		Sessions:    sessions,
	}
}

func TestNoTransitionBeforeMinWeeks(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0, weekSession(0, map[profile.TopicCategory]float64{
		profile.TopicGaming: 0.95,
	}))

	res := d.Evaluate(p)
	if res.Stage != StageTrustBuilding {
		t.Errorf("stage = %d, want %d with a single week of history", res.Stage, StageTrustBuilding)
	}
	if res.Advanced {
		t.Error("detector advanced before the minimum history window")
	}
}

func TestTrustBuildingRequiresRecentContact(t *testing.T) {
	d := NewDetector(DefaultConfig())
	sessions := []profile.TopicSession{
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicGaming: 0.9}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicGaming: 0.85, profile.TopicSchool: 0.1}),
	}

	// Contact established a year ago: safe-heavy weeks are just friendship.
	old := newProfile(week0.AddDate(-1, 0, 0), sessions...)
	if res := d.Evaluate(old); res.Stage != StageTrustBuilding {
		t.Errorf("long-standing contact advanced to stage %d", res.Stage)
	}

	recent := newProfile(week0, sessions...)
	res := d.Evaluate(recent)
	if res.Stage != StageBoundaryTesting {
		t.Errorf("stage = %d, want %d for a recent safe-heavy contact", res.Stage, StageBoundaryTesting)
	}
	if !res.Advanced {
		t.Error("expected Advanced on transition")
	}
}

func TestPersonalShiftAdvancesToIsolation(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicGaming: 0.95, profile.TopicPersonal: 0.05}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicGaming: 0.75, profile.TopicPersonal: 0.25}),
	)
	p.GroomingStage = StageBoundaryTesting

	res := d.Evaluate(p)
	if res.Stage != StageIsolation {
		t.Errorf("stage = %d, want %d after a 20pp personal shift", res.Stage, StageIsolation)
	}
}

func TestPersonalShiftBelowDeltaHolds(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicPersonal: 0.10}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicPersonal: 0.20}),
	)
	p.GroomingStage = StageBoundaryTesting

	res := d.Evaluate(p)
	if res.Stage != StageBoundaryTesting {
		t.Errorf("stage = %d, want unchanged for a 10pp shift", res.Stage)
	}
	if res.Advanced {
		t.Error("Advanced set without a transition")
	}
}

func TestSecrecyAdvancesToExploitation(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicGaming: 1}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicGaming: 0.8, profile.TopicSecrecy: 0.2}),
	)
	p.GroomingStage = StageIsolation

	res := d.Evaluate(p)
	if res.Stage != StageExploitation {
		t.Errorf("stage = %d, want %d after secrecy topics", res.Stage, StageExploitation)
	}
	if res.Confirmed {
		t.Error("confirmed without an exploitation-class request")
	}
}

func TestExploitationConfirmedByCriticalRequest(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for _, cat := range profile.ExploitationCategories {
		p := newProfile(week0,
			weekSession(0, map[profile.TopicCategory]float64{profile.TopicGaming: 1}),
			weekSession(1, map[profile.TopicCategory]float64{cat: 0.1, profile.TopicGaming: 0.9}),
		)
		p.GroomingStage = StageExploitation

		res := d.Evaluate(p)
		if !res.Confirmed {
			t.Errorf("%s did not confirm the exploitation stage", cat)
		}
	}
}

func TestConfirmedIsTerminal(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicLocationRequest: 0.2}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicGaming: 1}),
	)
	p.GroomingStage = StageExploitation
	p.GroomingConfirmed = true

	res := d.Evaluate(p)
	if !res.Confirmed {
		t.Error("confirmed status dropped on a benign week")
	}
	if res.Stage != StageExploitation {
		t.Errorf("stage regressed to %d", res.Stage)
	}
}

func TestSingleWeekCascadesThroughStages(t *testing.T) {
	d := NewDetector(DefaultConfig())
	// Week 2 shifts hard personal and pushes secrecy plus a meeting request
	// in the same week. From boundary-testing the evaluation should cascade
	// straight through isolation to a confirmed exploitation stage.
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicGaming: 0.95, profile.TopicPersonal: 0.05}),
		weekSession(1, map[profile.TopicCategory]float64{
			profile.TopicGaming:            0.65,
			profile.TopicPersonal:          0.25,
			profile.TopicSecrecy:           0.05,
			profile.TopicMeetingSuggestion: 0.05,
		}),
	)
	p.GroomingStage = StageBoundaryTesting

	res := d.Evaluate(p)
	if res.Stage != StageExploitation {
		t.Fatalf("stage = %d, want %d after cascade", res.Stage, StageExploitation)
	}
	if !res.Confirmed {
		t.Error("cascaded evaluation did not confirm")
	}
}

func TestStageNeverDecreases(t *testing.T) {
	d := NewDetector(DefaultConfig())
	p := newProfile(week0,
		weekSession(0, map[profile.TopicCategory]float64{profile.TopicSecrecy: 0.3}),
		weekSession(1, map[profile.TopicCategory]float64{profile.TopicSchool: 1}),
	)
	p.GroomingStage = StageIsolation

	res := d.Evaluate(p)
	if res.Stage < StageIsolation {
		t.Errorf("stage regressed from %d to %d", StageIsolation, res.Stage)
	}
}

func TestStageNames(t *testing.T) {
	cases := map[int]string{
		StageTrustBuilding:   "trust_building",
		StageBoundaryTesting: "boundary_testing",
		StageIsolation:       "isolation",
		StageExploitation:    "exploitation",
		99:                   "unknown",
	}
	for stage, want := range cases {
		if got := StageName(stage); got != want {
			t.Errorf("StageName(%d) = %q, want %q", stage, got, want)
		}
	}
}
