package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/idgen"
	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/profile"
)

// Manager decides what to capture and serves replays until expiry.
type Manager struct {
	store     Store
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a replay manager with the default capture threshold.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, threshold: CaptureThreshold, logger: logger, now: time.Now}
}

// WithClock overrides the time source (for tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithThreshold overrides the risk score above which content is retained.
// Non-positive values keep the default.
func (m *Manager) WithThreshold(threshold float64) *Manager {
	if threshold > 0 {
		m.threshold = threshold
	}
	return m
}

// ShouldCapture applies the manager's configured threshold.
func (m *Manager) ShouldCapture(riskScore float64, topics []profile.TopicCategory) bool {
	return shouldCapture(m.threshold, riskScore, topics)
}

// Capture persists a conversation window for an alert. Best-effort: on a
// write failure, it logs and returns nil so the caller's alert path is
// never blocked.
func (m *Manager) Capture(ctx context.Context, alert *alerts.Alert, messages []Message) *Replay {
	now := m.now()
	r := &Replay{
		ID:          idgen.WithPrefix("rpl_"),
		AlertID:     alert.ID,
		ChildID:     alert.ChildID,
		ContactHash: alert.ContactHash,
		Reason:      string(alert.Trigger),
		Messages:    messages,
		CapturedAt:  now,
		ExpiresAt:   now.Add(RetentionFor(alert.Tier)),
	}
	if err := m.store.Create(ctx, r); err != nil {
		m.logger.Warn("replay capture write failed, alert proceeds without replay",
			"alert", alert.ID, "error", err)
		return nil
	}
	metrics.ReplaysCapturedTotal.WithLabelValues(string(alert.Tier)).Inc()
	m.logger.Info("replay captured",
		"replay", r.ID, "alert", alert.ID, "expiresAt", r.ExpiresAt)
	return r
}

// Access returns a replay while now < expires_at and not-found afterwards,
// even if the sweep hasn't removed the row yet.
func (m *Manager) Access(ctx context.Context, id string) (*Replay, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.now().Before(r.ExpiresAt) {
		return nil, ErrNotFound
	}
	return r, nil
}

// MarkViewed records that a parent opened the replay.
func (m *Manager) MarkViewed(ctx context.Context, id string) error {
	if _, err := m.Access(ctx, id); err != nil {
		return err
	}
	return m.store.MarkViewed(ctx, id)
}

// MarkActed records that a parent acted on the replay.
func (m *Manager) MarkActed(ctx context.Context, id string) error {
	if _, err := m.Access(ctx, id); err != nil {
		return err
	}
	return m.store.MarkActed(ctx, id)
}

// SweepOnce removes everything past expiry. At-least-once semantics: a late
// sweep simply deletes more rows.
func (m *Manager) SweepOnce(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ReplaysPurgedTotal.Add(float64(n))
		m.logger.Info("replay retention sweep", "purged", n)
	}
	return n, nil
}
