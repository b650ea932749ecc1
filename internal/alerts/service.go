package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardian-os/guardian-risk/internal/pagination"
)

// AckHook runs after an alert is first acknowledged. Used to cancel the
// alert's escalation run and to publish feed updates.
type AckHook func(ctx context.Context, a *Alert)

// Service fronts the alert store for the feed and acknowledgement surface.
type Service struct {
	store    Store
	logger   *slog.Logger
	ackHooks []AckHook
	now      func() time.Time
}

// NewService creates an alert service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// OnAcknowledge registers a hook invoked on first acknowledgement.
func (s *Service) OnAcknowledge(hook AckHook) {
	s.ackHooks = append(s.ackHooks, hook)
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns one alert.
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	return s.store.Get(ctx, id)
}

// Acknowledge marks an alert acknowledged. Idempotent: repeat calls return
// the alert unchanged and fire no hooks.
func (s *Service) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	already, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	wasAcked := already.Acknowledged

	a, err := s.store.Acknowledge(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !wasAcked {
		s.logger.Info("alert acknowledged", "alert", id, "tier", string(a.Tier))
		for _, hook := range s.ackHooks {
			hook(ctx, a)
		}
	}
	return a, nil
}

// Feed is one page of a family's alert feed.
type Feed struct {
	Alerts     []*Alert `json:"alerts"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// ListByFamily returns a cursor-paginated page of the family's alerts,
// newest first.
func (s *Service) ListByFamily(ctx context.Context, familyID, cursor string, limit int) (*Feed, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var before *time.Time
	var beforeID string
	if cur != nil {
		before = &cur.CreatedAt
		beforeID = cur.ID
	}

	items, err := s.store.ListByFamily(ctx, familyID, before, beforeID, limit+1)
	if err != nil {
		return nil, err
	}

	page, next, hasMore := pagination.ComputePage(items, limit, func(a *Alert) (time.Time, string) {
		return a.CreatedAt, a.ID
	})
	return &Feed{Alerts: page, NextCursor: next, HasMore: hasMore}, nil
}
