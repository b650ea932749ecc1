package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardian-os/guardian-risk/internal/syncutil"
)

// Assessment is the scoring engine's output for one recomputation.
type Assessment struct {
	Score   float64
	Trust   float64
	Factors []RiskFactor
}

// Scorer recomputes a profile's risk and trust from its current evidence.
// Implementations must be pure: same profile state, same output.
type Scorer interface {
	Recompute(p *ContactProfile) Assessment
}

// StageResult reports a grooming detector evaluation.
type StageResult struct {
	Stage     int
	Confirmed bool
	Advanced  bool
}

// StageEvaluator advances the grooming stage from the profile's weekly trend.
type StageEvaluator interface {
	Evaluate(p *ContactProfile) StageResult
}

// Service is the contact profile store. All mutations of one
// (child, contact-hash) key are serialized through a sharded per-key lock;
// distinct keys proceed independently. Score recomputation runs inside the
// same critical section as the write that triggered it, so no reader ever
// observes evidence applied with a stale score.
type Service struct {
	store  Store
	scorer Scorer
	stages StageEvaluator
	locks  syncutil.ContextShardedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a profile service.
func NewService(store Store, scorer Scorer, stages StageEvaluator, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		scorer: scorer,
		stages: stages,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func lockKey(childID, contactHash string) string {
	return childID + "/" + contactHash
}

// GetOrCreate returns the profile for (child, contact), creating an empty one
// on first observed interaction.
func (s *Service) GetOrCreate(ctx context.Context, childID, contactHash string) (*ContactProfile, error) {
	unlock, err := s.locks.LockContext(ctx, lockKey(childID, contactHash))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.loadOrCreate(ctx, childID, contactHash)
}

// Get returns the profile or ErrNotFound. Read-only; no lock needed because
// stores hand out private copies.
func (s *Service) Get(ctx context.Context, childID, contactHash string) (*ContactProfile, error) {
	return s.store.Get(ctx, childID, contactHash)
}

// ListByChild returns all profiles for one child (dashboard contact list).
func (s *Service) ListByChild(ctx context.Context, childID string) ([]*ContactProfile, error) {
	return s.store.ListByChild(ctx, childID)
}

// ListByContact returns all children's profiles for one contact hash
// (family trust network snapshot pass).
func (s *Service) ListByContact(ctx context.Context, contactHash string) ([]*ContactProfile, error) {
	return s.store.ListByContact(ctx, contactHash)
}

// ApplyEvidence folds one evidence item into the profile and recomputes the
// risk score within the same critical section.
//
// Idempotent under at-least-once delivery: a duplicate evidence ID leaves the
// profile untouched and returns applied=false with no error.
func (s *Service) ApplyEvidence(ctx context.Context, childID, contactHash string, ev Evidence) (*ContactProfile, bool, error) {
	if ev.ID == "" {
		return nil, false, fmt.Errorf("evidence id is required")
	}

	unlock, err := s.locks.LockContext(ctx, lockKey(childID, contactHash))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	p, err := s.loadOrCreate(ctx, childID, contactHash)
	if err != nil {
		return nil, false, err
	}

	if _, dup := p.AppliedEvidence[ev.ID]; dup {
		return p, false, nil
	}

	s.fold(p, ev)
	p.AppliedEvidence[ev.ID] = struct{}{}
	s.recomputeLocked(p)

	if err := s.store.Put(ctx, p); err != nil {
		return nil, false, fmt.Errorf("persist profile: %w", err)
	}
	return p, true, nil
}

// ApplyTopicSession appends a weekly aggregate, runs the grooming detector
// exactly once for the append, and recomputes the score.
func (s *Service) ApplyTopicSession(ctx context.Context, childID, contactHash string, session TopicSession) (*ContactProfile, StageResult, error) {
	unlock, err := s.locks.LockContext(ctx, lockKey(childID, contactHash))
	if err != nil {
		return nil, StageResult{}, err
	}
	defer unlock()

	p, err := s.loadOrCreate(ctx, childID, contactHash)
	if err != nil {
		return nil, StageResult{}, err
	}

	session.ChildID = childID
	session.ContactHash = contactHash
	p.Sessions = append(p.Sessions, session)
	p.Patterns.TotalMessages += session.MessagesFromChild + session.MessagesFromContact

	var stage StageResult
	if s.stages != nil {
		stage = s.stages.Evaluate(p)
		if stage.Stage > p.GroomingStage {
			p.GroomingStage = stage.Stage
		}
		if stage.Confirmed {
			p.GroomingConfirmed = true
		}
	}

	s.recomputeLocked(p)

	if err := s.store.Put(ctx, p); err != nil {
		return nil, StageResult{}, fmt.Errorf("persist profile: %w", err)
	}
	return p, stage, nil
}

// SetFamilyTrust writes the propagated family trust term and recomputes.
// Called by the family network after its own recalculation; serialized on the
// profile key like any other write.
func (s *Service) SetFamilyTrust(ctx context.Context, childID, contactHash string, trust *float64) (*ContactProfile, error) {
	unlock, err := s.locks.LockContext(ctx, lockKey(childID, contactHash))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.Get(ctx, childID, contactHash)
	if err != nil {
		return nil, err
	}

	p.FamilyTrust = trust
	s.recomputeLocked(p)

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("persist profile: %w", err)
	}
	return p, nil
}

// SetParentApproved marks or clears parental approval for a contact.
func (s *Service) SetParentApproved(ctx context.Context, childID, contactHash string, approved bool) (*ContactProfile, error) {
	unlock, err := s.locks.LockContext(ctx, lockKey(childID, contactHash))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.loadOrCreate(ctx, childID, contactHash)
	if err != nil {
		return nil, err
	}
	p.ParentApproved = approved
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("persist profile: %w", err)
	}
	return p, nil
}

// loadOrCreate must be called with the per-key lock held.
func (s *Service) loadOrCreate(ctx context.Context, childID, contactHash string) (*ContactProfile, error) {
	p, err := s.store.Get(ctx, childID, contactHash)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	p = &ContactProfile{
		ChildID:         childID,
		ContactHash:     contactHash,
		StyleVector:     make([]float64, StyleVectorLen),
		Patterns:        ConversationPatterns{FirstSeen: now},
		SignalCounts:    make(map[SignalKind]int),
		AppliedEvidence: make(map[string]struct{}),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Debug("profile created", "child", childID, "contact", contactHash)
	return p, nil
}

// fold merges one evidence item into the profile's accumulators.
// Everything here is an order-independent sum or max-merge so the resulting
// score does not depend on delivery order.
func (s *Service) fold(p *ContactProfile, ev Evidence) {
	p.RecordSignal(ev.Kind)

	for _, tag := range ev.Tags {
		p.UpsertTag(tag)
	}

	if ev.MessageCount > 0 {
		p.Patterns.TotalMessages += ev.MessageCount
		if !ev.ObservedAt.IsZero() {
			p.Patterns.HourHistogram[ev.ObservedAt.Hour()] += ev.MessageCount
		}
	}
	p.Patterns.PersonalQuestions += ev.PersonalQuestions
	p.Patterns.LateNightMessages += ev.LateNightMessages
	if ev.MutualFriends > p.Patterns.MutualFriendCount {
		p.Patterns.MutualFriendCount = ev.MutualFriends
	}
	if !ev.ObservedAt.IsZero() && ev.ObservedAt.Before(p.Patterns.FirstSeen) {
		p.Patterns.FirstSeen = ev.ObservedAt
	}
}

// recomputeLocked refreshes score, trust, and factors. Caller holds the key lock.
func (s *Service) recomputeLocked(p *ContactProfile) {
	p.UpdatedAt = s.now()
	if s.scorer == nil {
		return
	}
	a := s.scorer.Recompute(p)
	p.RiskScore = a.Score
	p.TrustScore = a.Trust
	p.RiskFactors = a.Factors
}
