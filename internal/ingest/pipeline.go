package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/escalation"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/grooming"
	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/notify"
	"github.com/guardian-os/guardian-risk/internal/profile"
	"github.com/guardian-os/guardian-risk/internal/realtime"
	"github.com/guardian-os/guardian-risk/internal/replay"
	"github.com/guardian-os/guardian-risk/internal/traces"
)

// Escalator starts a timed guardian contact chain for an escalating alert.
type Escalator interface {
	Start(ctx context.Context, alert *alerts.Alert) (*escalation.Run, error)
}

// Publisher pushes pipeline events to connected dashboards.
type Publisher interface {
	BroadcastAlert(eventType realtime.EventType, alert *alerts.Alert)
}

// Outcome reports what one event produced.
type Outcome struct {
	Profile    *profile.ContactProfile `json:"profile"`
	Duplicate  bool                    `json:"duplicate,omitempty"`
	Alert      *alerts.Alert           `json:"alert,omitempty"`
	Suppressed bool                    `json:"suppressed,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// Pipeline runs events through profile update, family propagation, alert
// evaluation, and the downstream fan-out. Every stage past the profile write
// is best-effort with respect to the others: a failed notification or replay
// capture never unwinds an applied event.
type Pipeline struct {
	profiles  *profile.Service
	registry  family.Registry
	network   *family.Network
	generator *alerts.Generator
	alerts    alerts.Store
	escalator Escalator
	notifier  notify.Notifier
	replays   *replay.Manager
	publisher Publisher
	logger    *slog.Logger
}

// NewPipeline wires the event pipeline. escalator, notifier, replays, and
// publisher may each be nil; the corresponding fan-out step is skipped.
func NewPipeline(
	profiles *profile.Service,
	registry family.Registry,
	network *family.Network,
	generator *alerts.Generator,
	alertStore alerts.Store,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		profiles:  profiles,
		registry:  registry,
		network:   network,
		generator: generator,
		alerts:    alertStore,
		logger:    logger,
	}
}

// WithEscalator attaches the escalation scheduler.
func (p *Pipeline) WithEscalator(e Escalator) *Pipeline {
	p.escalator = e
	return p
}

// WithNotifier attaches the guardian notifier used for non-escalating tiers.
func (p *Pipeline) WithNotifier(n notify.Notifier) *Pipeline {
	p.notifier = n
	return p
}

// WithReplays attaches the conversation replay manager.
func (p *Pipeline) WithReplays(r *replay.Manager) *Pipeline {
	p.replays = r
	return p
}

// WithPublisher attaches the realtime hub.
func (p *Pipeline) WithPublisher(pub Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// ProcessSignal applies one discrete risk signal.
func (p *Pipeline) ProcessSignal(ctx context.Context, ev SignalEvent) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "ingest.ProcessSignal",
		traces.ChildID(ev.ChildID), traces.ContactHash(ev.ContactHash))
	defer span.End()

	fam, err := p.registry.FamilyOf(ctx, ev.ChildID)
	if err != nil {
		if errors.Is(err, family.ErrNotFound) {
			return nil, ErrUnknownChild
		}
		return nil, fmt.Errorf("resolve family: %w", err)
	}

	prof, applied, err := p.profiles.ApplyEvidence(ctx, ev.ChildID, ev.ContactHash, ev.evidence())
	if err != nil {
		return nil, fmt.Errorf("apply evidence: %w", err)
	}
	if !applied {
		metrics.IngestEventsTotal.WithLabelValues("signal", "duplicate").Inc()
		return &Outcome{Profile: prof, Duplicate: true}, nil
	}
	metrics.IngestEventsTotal.WithLabelValues("signal", "applied").Inc()

	prof = p.propagate(ctx, ev.ChildID, ev.ContactHash, prof)

	return p.evaluate(ctx, fam, prof, triggerForSignal(profile.SignalKind(ev.Kind)), ev.Educational, ev.Messages, nil)
}

// ProcessTopicSession applies one weekly topic aggregate.
func (p *Pipeline) ProcessTopicSession(ctx context.Context, ev TopicSessionEvent) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "ingest.ProcessTopicSession",
		traces.ChildID(ev.ChildID), traces.ContactHash(ev.ContactHash))
	defer span.End()

	fam, err := p.registry.FamilyOf(ctx, ev.ChildID)
	if err != nil {
		if errors.Is(err, family.ErrNotFound) {
			return nil, ErrUnknownChild
		}
		return nil, fmt.Errorf("resolve family: %w", err)
	}

	prior, err := p.profiles.Get(ctx, ev.ChildID, ev.ContactHash)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	prof, stage, err := p.profiles.ApplyTopicSession(ctx, ev.ChildID, ev.ContactHash, ev.session())
	if err != nil {
		return nil, fmt.Errorf("apply topic session: %w", err)
	}
	metrics.IngestEventsTotal.WithLabelValues("topic_session", "applied").Inc()
	if stage.Advanced {
		metrics.GroomingStageTransitionsTotal.WithLabelValues(grooming.StageName(stage.Stage)).Inc()
		p.logger.Warn("grooming stage advanced",
			"child", ev.ChildID,
			"contact", ev.ContactHash,
			"stage", grooming.StageName(stage.Stage),
			"confirmed", stage.Confirmed)
	}

	prof = p.propagate(ctx, ev.ChildID, ev.ContactHash, prof)

	trigger := alerts.TriggerRiskThreshold
	switch {
	case prof.GroomingConfirmed && (prior == nil || !prior.GroomingConfirmed):
		trigger = alerts.TriggerGroomingConfirmed
	case stage.Advanced:
		trigger = alerts.TriggerStageAdvance
	}

	return p.evaluate(ctx, fam, prof, trigger, ev.Educational, ev.Messages, ev.topics())
}

// propagate recalculates the family view and re-reads the profile, since the
// trust writeback may have just refreshed this child's score. Family
// propagation failure degrades to the single-child score.
func (p *Pipeline) propagate(ctx context.Context, childID, contactHash string, prof *profile.ContactProfile) *profile.ContactProfile {
	if p.network == nil {
		return prof
	}
	if _, err := p.network.OnChildUpdate(ctx, childID, contactHash); err != nil {
		p.logger.Warn("family propagation failed", "child", childID, "contact", contactHash, "error", err)
		return prof
	}
	refreshed, err := p.profiles.Get(ctx, childID, contactHash)
	if err != nil {
		return prof
	}
	return refreshed
}

// evaluate runs alert generation and the fan-out for one applied event.
func (p *Pipeline) evaluate(
	ctx context.Context,
	fam *family.Family,
	prof *profile.ContactProfile,
	trigger alerts.Trigger,
	educational bool,
	messages []replay.Message,
	topics []profile.TopicCategory,
) (*Outcome, error) {
	res, err := p.generator.Evaluate(ctx, alerts.Input{
		FamilyID:    fam.ID,
		Profile:     prof,
		Trigger:     trigger,
		Educational: educational,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate alert: %w", err)
	}

	out := &Outcome{
		Profile:    prof,
		Alert:      res.Alert,
		Suppressed: res.Suppressed,
		Reason:     res.Reason,
	}
	if res.Alert == nil {
		return out, nil
	}

	p.capture(ctx, res.Alert, prof, messages, topics)
	p.dispatch(ctx, fam, res.Alert)
	if p.publisher != nil {
		p.publisher.BroadcastAlert(realtime.EventAlertCreated, res.Alert)
	}
	return out, nil
}

// capture stores the conversation window for alerts in a retention tier.
func (p *Pipeline) capture(ctx context.Context, alert *alerts.Alert, prof *profile.ContactProfile, messages []replay.Message, topics []profile.TopicCategory) {
	if p.replays == nil || len(messages) == 0 {
		return
	}
	if !p.replays.ShouldCapture(prof.RiskScore, topics) {
		return
	}

	rp := p.replays.Capture(ctx, alert, messages)
	if rp == nil {
		return
	}
	alert.ReplayID = rp.ID
	if err := p.alerts.SetReplay(ctx, alert.ID, rp.ID); err != nil {
		p.logger.Warn("replay link failed", "alert", alert.ID, "replay", rp.ID, "error", err)
	}
}

// dispatch routes the alert to guardians: escalating tiers start the timed
// contact chain, everything else goes once to the primary guardian.
// Delivery failure is logged; the alert is already persisted and feed-visible.
func (p *Pipeline) dispatch(ctx context.Context, fam *family.Family, alert *alerts.Alert) {
	if alert.Tier.Escalates() {
		if p.escalator == nil {
			return
		}
		if _, err := p.escalator.Start(ctx, alert); err != nil {
			p.logger.Error("escalation start failed", "alert", alert.ID, "error", err)
		}
		return
	}

	if p.notifier == nil {
		return
	}
	primary, ok := fam.Contact(family.RolePrimary)
	if !ok {
		p.logger.Warn("no primary guardian configured", "family", fam.ID, "alert", alert.ID)
		return
	}
	if err := p.notifier.Notify(ctx, primary, alert); err != nil {
		p.logger.Warn("guardian notification failed", "alert", alert.ID, "error", err)
	}
}

// triggerForSignal maps severe signal kinds to their forcing triggers.
func triggerForSignal(kind profile.SignalKind) alerts.Trigger {
	switch kind {
	case profile.SignalSelfHarm:
		return alerts.TriggerSelfHarm
	case profile.SignalExploitation:
		return alerts.TriggerExploitation
	case profile.SignalPlatformSwitch:
		return alerts.TriggerPlatformSwitch
	default:
		return alerts.TriggerRiskThreshold
	}
}
