// Package escalation drives the time-boxed notification sequence for
// Critical and Emergency alerts: primary guardian first, then secondary,
// then the emergency contact, each with a deadline. An acknowledgement at
// any point cancels the run; cancellation is idempotent.
package escalation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/family"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("escalation: not found")

// Step is one position in the escalation chain.
type Step string

const (
	StepPrimary   Step = "primary"
	StepSecondary Step = "secondary"
	StepEmergency Step = "emergency"
)

// Role maps a step to the guardian contact role it notifies.
func (s Step) Role() family.ContactRole {
	switch s {
	case StepPrimary:
		return family.RolePrimary
	case StepSecondary:
		return family.RoleSecondary
	case StepEmergency:
		return family.RoleEmergency
	}
	return ""
}

// next returns the following step, or "" after Emergency.
func (s Step) next() Step {
	switch s {
	case StepPrimary:
		return StepSecondary
	case StepSecondary:
		return StepEmergency
	}
	return ""
}

// Outcome is a run's terminal state.
type Outcome string

const (
	// OutcomeAcknowledged: a guardian acknowledged before the chain ran out.
	OutcomeAcknowledged Outcome = "acknowledged"
	// OutcomeUnacknowledged: the emergency step's deadline passed with no
	// acknowledgement. Logged for manual follow-up.
	OutcomeUnacknowledged Outcome = "unacknowledged"
)

// Run is the mutable state of one in-flight escalation.
type Run struct {
	ID        string     `json:"id"`
	AlertID   string     `json:"alertId"`
	FamilyID  string     `json:"familyId"`
	Step      Step       `json:"step"`
	Deadline  time.Time  `json:"deadline"`
	Cancelled bool       `json:"cancelled"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Done reports whether the run has reached a terminal state.
func (r *Run) Done() bool {
	return r.Outcome != ""
}

// Notifier delivers one alert notification to a guardian contact.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, contact family.GuardianContact, alert *alerts.Alert) error
}

// RunStore keeps run state. Runs are transient: they exist from alert
// creation until acknowledgement or chain exhaustion.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

// Get returns a run by ID.
func (s *RunStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ByAlert returns the run for an alert, if one exists.
func (s *RunStore) ByAlert(alertID string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.AlertID == alertID {
			cp := *r
			return &cp, true
		}
	}
	return nil, false
}

// List returns all runs, newest first.
func (s *RunStore) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *RunStore) put(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
}
