package alerts

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardian-os/guardian-risk/internal/profile"
)

var genNow = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC) // a Monday, midday

func testGenerator(t *testing.T, inSchool func(time.Time) bool) (*Generator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGenerator(store, DefaultThresholds(), inSchool, NewDigestBuffer(), logger).
		WithClock(func() time.Time { return genNow })
	return g, store
}

func scoredProfile(score float64) *profile.ContactProfile {
	return &profile.ContactProfile{
		ChildID:     "child-1",
		ContactHash: "abcdef1234567890",
		RiskScore:   score,
	}
}

func TestTierMapping(t *testing.T) {
	cases := []struct {
		score float64
		tier  Tier
	}{
		{0.0, TierDigest},
		{0.29, TierDigest},
		{0.3, TierNote},
		{0.49, TierNote},
		{0.5, TierElevated},
		{0.69, TierElevated},
		{0.7, TierHigh},
		{0.84, TierHigh},
		{0.85, TierCritical},
		{1.0, TierCritical},
	}

	g, _ := testGenerator(t, nil)
	for i, tc := range cases {
		// One contact per case: the daily dedup window would otherwise
		// swallow every alert after the first.
		p := scoredProfile(tc.score)
		p.ContactHash = "tier-case-" + strconv.Itoa(i)
		res, err := g.Evaluate(context.Background(), Input{
			FamilyID: "fam-1",
			Profile:  p,
			Trigger:  TriggerRiskThreshold,
		})
		require.NoError(t, err)
		if tc.tier == TierDigest {
			assert.Nil(t, res.Alert, "score %v should fold into digest", tc.score)
			continue
		}
		require.NotNil(t, res.Alert, "score %v", tc.score)
		assert.Equal(t, tc.tier, res.Alert.Tier, "score %v", tc.score)
	}
}

func TestEmergencyTriggersOverrideScore(t *testing.T) {
	g, _ := testGenerator(t, nil)
	for _, trigger := range []Trigger{TriggerGroomingConfirmed, TriggerSelfHarm, TriggerExploitation} {
		res, err := g.Evaluate(context.Background(), Input{
			FamilyID: "fam-1",
			Profile:  scoredProfile(0.05), // numerically negligible
			Trigger:  trigger,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Alert, "trigger %s", trigger)
		assert.Equal(t, TierEmergency, res.Alert.Tier)
	}
}

func TestParentApprovedSuppressesElevated(t *testing.T) {
	g, store := testGenerator(t, nil)
	p := scoredProfile(0.55)
	p.ParentApproved = true

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: p, Trigger: TriggerRiskThreshold,
	})
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "parent_approved", res.Reason)
	assert.Nil(t, res.Alert)

	// No record is created for a suppressed event.
	feed, err := store.ListByFamily(context.Background(), "fam-1", nil, "", 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestParentApprovalNeverSuppressesEmergency(t *testing.T) {
	g, _ := testGenerator(t, nil)
	p := scoredProfile(1.0)
	p.ParentApproved = true

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: p, Trigger: TriggerGroomingConfirmed,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, TierEmergency, res.Alert.Tier)
}

func TestParentApprovalNeverSuppressesCritical(t *testing.T) {
	g, _ := testGenerator(t, nil)
	p := scoredProfile(0.9)
	p.ParentApproved = true

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: p, Trigger: TriggerRiskThreshold,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, TierCritical, res.Alert.Tier)
}

func TestSchoolHoursSuppressesEducational(t *testing.T) {
	inSchool := func(time.Time) bool { return true }
	g, _ := testGenerator(t, inSchool)

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID:    "fam-1",
		Profile:     scoredProfile(0.4),
		Trigger:     TriggerRiskThreshold,
		Educational: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "school_hours", res.Reason)

	// Non-educational events alert even during school hours.
	res, err = g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1",
		Profile:  scoredProfile(0.4),
		Trigger:  TriggerRiskThreshold,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
}

func TestDailyDuplicateSuppressed(t *testing.T) {
	g, _ := testGenerator(t, nil)
	in := Input{FamilyID: "fam-1", Profile: scoredProfile(0.55), Trigger: TriggerRiskThreshold}

	first, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, first.Alert)

	second, err := g.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Suppressed)
	assert.Equal(t, "daily_duplicate", second.Reason)

	// A different trigger for the same contact still alerts.
	third, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: scoredProfile(0.55), Trigger: TriggerPlatformSwitch,
	})
	require.NoError(t, err)
	require.NotNil(t, third.Alert)
}

func TestDigestBufferFlush(t *testing.T) {
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	digest := NewDigestBuffer()
	g := NewGenerator(store, DefaultThresholds(), nil, digest, logger).
		WithClock(func() time.Time { return genNow })

	for i := 0; i < 3; i++ {
		res, err := g.Evaluate(context.Background(), Input{
			FamilyID: "fam-1", Profile: scoredProfile(0.1), Trigger: TriggerRiskThreshold,
		})
		require.NoError(t, err)
		assert.Equal(t, "digest", res.Reason)
	}

	emitted := digest.Flush(context.Background(), store, logger, genNow)
	assert.Equal(t, 1, emitted)

	feed, err := store.ListByFamily(context.Background(), "fam-1", nil, "", 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, TierDigest, feed[0].Tier)
	assert.Equal(t, TriggerDailyDigest, feed[0].Trigger)
	assert.Contains(t, feed[0].Summary, "3 routine events")

	// Flushing again with no new activity emits nothing.
	assert.Zero(t, digest.Flush(context.Background(), store, logger, genNow))
}

func TestAlertCarriesRecommendedAction(t *testing.T) {
	g, _ := testGenerator(t, nil)

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: scoredProfile(0.75), Trigger: TriggerRiskThreshold,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "review_conversation", res.Alert.RecommendedAction)

	res, err = g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: scoredProfile(0.2), Trigger: TriggerSelfHarm,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "check_in_with_child_now", res.Alert.RecommendedAction)
}

func TestSummaryUsesTopFactors(t *testing.T) {
	g, _ := testGenerator(t, nil)
	p := scoredProfile(0.6)
	p.RiskFactors = []profile.RiskFactor{
		{Name: "late_night_contact", Weight: 0.2, Detail: "40% of messages between 22:00 and 06:00"},
		{Name: "known_relationship", Weight: -0.2, Detail: "classmate tag"},
		{Name: "platform_switch_suggested", Weight: 0.3, Detail: "suggested moving to an unmonitored platform 1 time(s)"},
	}

	res, err := g.Evaluate(context.Background(), Input{
		FamilyID: "fam-1", Profile: p, Trigger: TriggerRiskThreshold,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Contains(t, res.Alert.Summary, "unmonitored platform")
	assert.NotContains(t, res.Alert.Summary, "classmate", "trust factors stay out of the summary")
}
