package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/circuitbreaker"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/retry"
)

// payload is the body posted to a guardian's webhook.
type payload struct {
	Alert     *alerts.Alert      `json:"alert"`
	Role      family.ContactRole `json:"role"`
	Timestamp time.Time          `json:"timestamp"`
}

// WebhookNotifier posts signed alert payloads to guardian webhook URLs.
// Delivery retries with backoff; a URL that keeps failing trips a circuit
// breaker so a dead endpoint cannot stall escalation notifications.
type WebhookNotifier struct {
	client  *http.Client
	secret  string
	breaker *circuitbreaker.Breaker
}

// NewWebhookNotifier creates a webhook notifier. secret signs payloads with
// HMAC-SHA256; empty disables signing.
func NewWebhookNotifier(secret string) *WebhookNotifier {
	return &WebhookNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		secret:  secret,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, contact family.GuardianContact, alert *alerts.Alert) error {
	if !w.breaker.Allow(contact.WebhookURL) {
		metrics.NotificationsTotal.WithLabelValues("webhook", "circuit_open").Inc()
		return fmt.Errorf("webhook circuit open for %s", contact.WebhookURL)
	}

	body, err := json.Marshal(payload{
		Alert:     alert,
		Role:      contact.Role,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return w.post(ctx, contact.WebhookURL, alert, body)
	})
	if err != nil {
		w.breaker.RecordFailure(contact.WebhookURL)
		metrics.NotificationsTotal.WithLabelValues("webhook", "error").Inc()
		return fmt.Errorf("deliver notification: %w", err)
	}

	w.breaker.RecordSuccess(contact.WebhookURL)
	metrics.NotificationsTotal.WithLabelValues("webhook", "ok").Inc()
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, url string, alert *alerts.Alert, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guardian-Event", "alert."+string(alert.Tier))
	req.Header.Set("X-Guardian-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if w.secret != "" {
		req.Header.Set("X-Guardian-Signature", sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
