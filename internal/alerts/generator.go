package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/guardian-os/guardian-risk/internal/idgen"
	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/profile"
)

// Thresholds are the score boundaries between tiers. Scores below Note fold
// into the daily digest and emit no alert object.
type Thresholds struct {
	Note     float64
	Elevated float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Note: 0.3, Elevated: 0.5, High: 0.7, Critical: 0.85}
}

// Input is one scored event presented to the generator.
type Input struct {
	FamilyID    string
	Profile     *profile.ContactProfile
	Trigger     Trigger
	Educational bool
}

// Result reports what the generator decided.
type Result struct {
	Alert      *Alert // nil when digested or suppressed
	Suppressed bool
	Reason     string // suppression reason, or "digest"
}

// Generator evaluates scored events into alerts, applying suppression.
type Generator struct {
	store      Store
	thresholds Thresholds
	inSchool   func(time.Time) bool
	digest     *DigestBuffer
	logger     *slog.Logger
	now        func() time.Time
}

// NewGenerator creates an alert generator. inSchool may be nil when no
// school-hours window is configured.
func NewGenerator(store Store, thresholds Thresholds, inSchool func(time.Time) bool, digest *DigestBuffer, logger *slog.Logger) *Generator {
	return &Generator{
		store:      store,
		thresholds: thresholds,
		inSchool:   inSchool,
		digest:     digest,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Evaluate maps a scored event to an alert tier, applies suppression, and
// persists the alert when one is emitted.
func (g *Generator) Evaluate(ctx context.Context, in Input) (Result, error) {
	now := g.now()
	tier := g.tierFor(in)

	if tier == TierDigest {
		if g.digest != nil {
			g.digest.Record(in.FamilyID, in.Profile.ChildID, in.Profile.ContactHash)
		}
		return Result{Reason: "digest"}, nil
	}

	if !in.Trigger.ForcesEmergency() && !tier.Escalates() {
		if reason, suppressed := g.suppress(ctx, in, now); suppressed {
			metrics.AlertsSuppressedTotal.WithLabelValues(reason).Inc()
			g.logger.Debug("alert suppressed",
				"reason", reason, "child", in.Profile.ChildID, "contact", in.Profile.ContactHash, "trigger", string(in.Trigger))
			return Result{Suppressed: true, Reason: reason}, nil
		}
	}

	a := &Alert{
		ID:                idgen.WithPrefix("alrt_"),
		Tier:              tier,
		FamilyID:          in.FamilyID,
		ChildID:           in.Profile.ChildID,
		ContactHash:       in.Profile.ContactHash,
		Trigger:           in.Trigger,
		RiskScore:         in.Profile.RiskScore,
		Summary:           g.summary(in, tier),
		RecommendedAction: RecommendedAction(tier, in.Trigger),
		CreatedAt:         now,
	}
	if err := g.store.Create(ctx, a); err != nil {
		return Result{}, fmt.Errorf("persist alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(tier)).Inc()
	return Result{Alert: a}, nil
}

func (g *Generator) tierFor(in Input) Tier {
	if in.Trigger.ForcesEmergency() {
		return TierEmergency
	}
	score := in.Profile.RiskScore
	switch {
	case score >= g.thresholds.Critical:
		return TierCritical
	case score >= g.thresholds.High:
		return TierHigh
	case score >= g.thresholds.Elevated:
		return TierElevated
	case score >= g.thresholds.Note:
		return TierNote
	default:
		return TierDigest
	}
}

// suppress applies the do-not-alert rules. Never called for Critical,
// Emergency, or emergency-forcing triggers.
func (g *Generator) suppress(ctx context.Context, in Input, now time.Time) (string, bool) {
	if in.Profile.ParentApproved {
		return "parent_approved", true
	}
	if in.Educational && g.inSchool != nil && g.inSchool(now) {
		return "school_hours", true
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	exists, err := g.store.ExistsSince(ctx, in.Profile.ChildID, in.Profile.ContactHash, in.Trigger, dayStart)
	if err != nil {
		g.logger.Warn("daily dedup check failed, emitting alert", "error", err)
		return "", false
	}
	if exists {
		return "daily_duplicate", true
	}
	return "", false
}

// summary renders the parent-facing one-liner from the strongest factors.
func (g *Generator) summary(in Input, tier Tier) string {
	p := in.Profile
	switch in.Trigger {
	case TriggerGroomingConfirmed:
		return fmt.Sprintf("Confirmed grooming pattern from contact %s", shortHash(p.ContactHash))
	case TriggerSelfHarm:
		return "Self-harm indicators detected in a conversation"
	case TriggerExploitation:
		return fmt.Sprintf("Explicit exploitation signal from contact %s", shortHash(p.ContactHash))
	}

	factors := topFactors(p.RiskFactors, 2)
	if len(factors) == 0 {
		return fmt.Sprintf("Contact %s reached %s risk (%.2f)", shortHash(p.ContactHash), tier, p.RiskScore)
	}
	return fmt.Sprintf("Contact %s at %s risk (%.2f): %s", shortHash(p.ContactHash), tier, p.RiskScore, joinFactors(factors))
}

// topFactors returns the n largest positive contributions.
func topFactors(factors []profile.RiskFactor, n int) []profile.RiskFactor {
	var positive []profile.RiskFactor
	for _, f := range factors {
		if f.Weight > 0 {
			positive = append(positive, f)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool { return positive[i].Weight > positive[j].Weight })
	if len(positive) > n {
		positive = positive[:n]
	}
	return positive
}

func joinFactors(factors []profile.RiskFactor) string {
	out := ""
	for i, f := range factors {
		if i > 0 {
			out += ", "
		}
		if f.Detail != "" {
			out += f.Detail
		} else {
			out += f.Name
		}
	}
	return out
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
