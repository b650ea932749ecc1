package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/idgen"
	"github.com/guardian-os/guardian-risk/internal/metrics"
)

// DefaultStepTimeout is how long each contact has to acknowledge before the
// chain advances.
const DefaultStepTimeout = 15 * time.Minute

// Scheduler runs one cancellable timer goroutine per escalation.
type Scheduler struct {
	registry family.Registry
	notifier Notifier
	store    *RunStore
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun // keyed by alert ID
	wg     sync.WaitGroup

	onEvent func(run Run)
}

type activeRun struct {
	run    *Run
	cancel chan struct{}
	once   sync.Once
}

// NewScheduler creates an escalation scheduler.
func NewScheduler(registry family.Registry, notifier Notifier, store *RunStore, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Scheduler{
		registry: registry,
		notifier: notifier,
		store:    store,
		timeout:  timeout,
		logger:   logger,
		active:   make(map[string]*activeRun),
	}
}

// WithEvents registers a hook invoked with a snapshot of the run after every
// step notification and when the run reaches a terminal outcome. Used to
// stream escalation progress to parent dashboards.
func (s *Scheduler) WithEvents(fn func(run Run)) *Scheduler {
	s.onEvent = fn
	return s
}

func (s *Scheduler) emit(run *Run) {
	if s.onEvent != nil {
		s.onEvent(*run)
	}
}

// Start begins an escalation run for a Critical or Emergency alert: notify
// the first configured contact and arm the step timer. One run per alert;
// starting twice returns the existing run.
func (s *Scheduler) Start(ctx context.Context, alert *alerts.Alert) (*Run, error) {
	s.mu.Lock()
	if existing, ok := s.active[alert.ID]; ok {
		// The loop goroutine owns existing.run; read the store's copy.
		id := existing.run.ID
		s.mu.Unlock()
		return s.store.Get(id)
	}
	s.mu.Unlock()

	fam, err := s.registry.Family(ctx, alert.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("load family %s: %w", alert.FamilyID, err)
	}

	run := &Run{
		ID:        idgen.WithPrefix("run_"),
		AlertID:   alert.ID,
		FamilyID:  alert.FamilyID,
		StartedAt: time.Now(),
	}

	step, contact, ok := s.firstConfigured(fam, StepPrimary)
	if !ok {
		// Nobody to notify at any tier: terminal immediately.
		now := time.Now()
		run.Outcome = OutcomeUnacknowledged
		run.EndedAt = &now
		s.store.put(run)
		metrics.EscalationOutcomesTotal.WithLabelValues(string(OutcomeUnacknowledged)).Inc()
		s.logger.Error("escalation chain has no configured contacts",
			"alert", alert.ID, "family", alert.FamilyID)
		return run, nil
	}

	run.Step = step
	run.Deadline = time.Now().Add(s.timeout)
	s.store.put(run)

	ar := &activeRun{run: run, cancel: make(chan struct{})}
	s.mu.Lock()
	s.active[alert.ID] = ar
	s.mu.Unlock()
	metrics.ActiveEscalationRuns.Inc()

	s.notify(step, contact, alert)
	s.emit(run)

	// Snapshot before the loop goroutine takes ownership of run.
	cp := *run
	s.wg.Add(1)
	go s.loop(ar, fam, alert)

	return &cp, nil
}

// CancelForAlert cancels the alert's run if one is in flight. Idempotent:
// cancelling a finished or already-cancelled run is a no-op.
func (s *Scheduler) CancelForAlert(alertID string) {
	s.mu.Lock()
	ar, ok := s.active[alertID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ar.once.Do(func() { close(ar.cancel) })
}

// Shutdown waits for all run goroutines to exit. Pending runs are left in
// the store for a restart to inspect.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, ar := range s.active {
		ar.once.Do(func() { close(ar.cancel) })
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ar *activeRun, fam *family.Family, alert *alerts.Alert) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in escalation run", "alert", alert.ID, "panic", fmt.Sprint(r))
		}
	}()
	defer func() {
		s.mu.Lock()
		delete(s.active, alert.ID)
		s.mu.Unlock()
		metrics.ActiveEscalationRuns.Dec()
	}()

	run := ar.run
	timer := time.NewTimer(time.Until(run.Deadline))
	defer timer.Stop()

	for {
		select {
		case <-ar.cancel:
			s.finish(run, OutcomeAcknowledged)
			return

		case <-timer.C:
			if run.Step == StepEmergency {
				s.finish(run, OutcomeUnacknowledged)
				s.logger.Error("escalation exhausted with no acknowledgement",
					"alert", alert.ID, "family", run.FamilyID, "run", run.ID)
				return
			}

			step, contact, ok := s.firstConfigured(fam, run.Step.next())
			if !ok {
				s.finish(run, OutcomeUnacknowledged)
				s.logger.Error("escalation exhausted with no acknowledgement",
					"alert", alert.ID, "family", run.FamilyID, "run", run.ID)
				return
			}

			run.Step = step
			run.Deadline = time.Now().Add(s.timeout)
			s.store.put(run)
			s.notify(step, contact, alert)
			s.emit(run)
			timer.Reset(time.Until(run.Deadline))
		}
	}
}

// firstConfigured walks the chain from the given step and returns the first
// step that has a guardian configured. Missing tiers are skipped, not fatal.
func (s *Scheduler) firstConfigured(fam *family.Family, from Step) (Step, family.GuardianContact, bool) {
	for step := from; step != ""; step = step.next() {
		if contact, ok := fam.Contact(step.Role()); ok {
			return step, contact, true
		}
		s.logger.Warn("no contact configured for escalation tier, skipping",
			"family", fam.ID, "step", string(step))
	}
	return "", family.GuardianContact{}, false
}

func (s *Scheduler) notify(step Step, contact family.GuardianContact, alert *alerts.Alert) {
	metrics.EscalationStepsTotal.WithLabelValues(string(step)).Inc()
	s.logger.Info("escalation step notified",
		"alert", alert.ID, "step", string(step), "contact", contact.Name)
	if err := s.notifier.Notify(context.Background(), contact, alert); err != nil {
		s.logger.Warn("escalation notification failed",
			"alert", alert.ID, "step", string(step), "error", err)
	}
}

func (s *Scheduler) finish(run *Run, outcome Outcome) {
	now := time.Now()
	run.Outcome = outcome
	run.Cancelled = outcome == OutcomeAcknowledged
	run.EndedAt = &now
	s.store.put(run)
	metrics.EscalationOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	s.emit(run)
}
