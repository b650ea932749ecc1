// Package notify delivers alert notifications to guardian contacts.
// Transport is a signed webhook when the contact has one configured, with a
// structured-log fallback so a misconfigured family still leaves an audit
// trail. Non-urgent notifications are deferred during quiet hours.
package notify

import (
	"context"
	"log/slog"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/metrics"
)

// Notifier delivers one alert to one guardian contact.
type Notifier interface {
	Notify(ctx context.Context, contact family.GuardianContact, alert *alerts.Alert) error
}

// Router sends via webhook when the contact has a URL and falls back to the
// log notifier otherwise.
type Router struct {
	webhook *WebhookNotifier
	logger  *slog.Logger
}

// NewRouter creates a notification router.
func NewRouter(webhook *WebhookNotifier, logger *slog.Logger) *Router {
	return &Router{webhook: webhook, logger: logger}
}

func (r *Router) Notify(ctx context.Context, contact family.GuardianContact, alert *alerts.Alert) error {
	if contact.WebhookURL != "" && r.webhook != nil {
		return r.webhook.Notify(ctx, contact, alert)
	}

	metrics.NotificationsTotal.WithLabelValues("log", "ok").Inc()
	r.logger.Warn("no notification transport configured for contact, logging only",
		"contact", contact.Name,
		"role", string(contact.Role),
		"alert", alert.ID,
		"tier", string(alert.Tier),
		"summary", alert.Summary,
	)
	return nil
}
