package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/metrics"
)

// QuietHours wraps a Notifier and defers non-urgent notifications while the
// configured quiet window is active. Critical and Emergency alerts are never
// deferred. Deferred notifications deliver on the next Flush outside the
// window.
type QuietHours struct {
	next    Notifier
	inQuiet func(time.Time) bool
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	deferred []deferredNotification
}

type deferredNotification struct {
	contact family.GuardianContact
	alert   *alerts.Alert
}

// NewQuietHours creates the quiet-hours wrapper. inQuiet reports whether a
// time falls inside the family's quiet window.
func NewQuietHours(next Notifier, inQuiet func(time.Time) bool, logger *slog.Logger) *QuietHours {
	return &QuietHours{next: next, inQuiet: inQuiet, logger: logger, now: time.Now}
}

// WithClock overrides the time source (for tests).
func (q *QuietHours) WithClock(now func() time.Time) *QuietHours {
	q.now = now
	return q
}

func (q *QuietHours) Notify(ctx context.Context, contact family.GuardianContact, alert *alerts.Alert) error {
	if alert.Tier.Escalates() || !q.inQuiet(q.now()) {
		return q.next.Notify(ctx, contact, alert)
	}

	q.mu.Lock()
	q.deferred = append(q.deferred, deferredNotification{contact: contact, alert: alert})
	q.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues("deferred", "queued").Inc()
	q.logger.Info("notification deferred for quiet hours",
		"alert", alert.ID, "tier", string(alert.Tier), "contact", contact.Name)
	return nil
}

// Flush delivers everything deferred, if the quiet window has ended. Called
// periodically by the server. Returns how many notifications were sent.
func (q *QuietHours) Flush(ctx context.Context) int {
	if q.inQuiet(q.now()) {
		return 0
	}

	q.mu.Lock()
	pending := q.deferred
	q.deferred = nil
	q.mu.Unlock()

	for _, d := range pending {
		if err := q.next.Notify(ctx, d.contact, d.alert); err != nil {
			q.logger.Warn("deferred notification failed",
				"alert", d.alert.ID, "contact", d.contact.Name, "error", err)
		}
	}
	return len(pending)
}

// Pending returns how many notifications are waiting for the window to end.
func (q *QuietHours) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deferred)
}
