package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/guardian-os/guardian-risk/internal/alerts"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventAlertCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlertCreated, EventEscalationStep},
	}}

	created := &Event{Type: EventAlertCreated}
	step := &Event{Type: EventEscalationStep}
	replay := &Event{Type: EventReplayCaptured}

	if !h.shouldSend(client, created) {
		t.Error("Should receive alert.created events")
	}
	if !h.shouldSend(client, step) {
		t.Error("Should receive escalation.step events")
	}
	if h.shouldSend(client, replay) {
		t.Error("Should NOT receive replay.captured events")
	}
}

func TestShouldSend_FamilyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		FamilyIDs: []string{"fam-1"},
	}}

	matching := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"familyId": "fam-1"},
	}
	notMatching := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"familyId": "fam-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on family id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match a different family")
	}
}

func TestShouldSend_MinTier(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{MinTier: "high"}}

	high := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"tier": "high"},
	}
	emergency := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"tier": "emergency"},
	}
	note := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"tier": "note"},
	}

	if !h.shouldSend(client, high) {
		t.Error("Should receive alerts at the minimum tier")
	}
	if !h.shouldSend(client, emergency) {
		t.Error("Should receive alerts above the minimum tier")
	}
	if h.shouldSend(client, note) {
		t.Error("Should NOT receive alerts below the minimum tier")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlertCreated},
		FamilyIDs:  []string{"fam-1"},
		MinTier:    "critical",
	}}

	passes := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"familyId": "fam-1", "tier": "critical"},
	}
	wrongTier := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"familyId": "fam-1", "tier": "elevated"},
	}
	wrongFamily := &Event{
		Type: EventAlertCreated,
		Data: map[string]interface{}{"familyId": "fam-9", "tier": "emergency"},
	}

	if !h.shouldSend(client, passes) {
		t.Error("Event matching all filters should pass")
	}
	if h.shouldSend(client, wrongTier) {
		t.Error("Tier below minimum should be filtered")
	}
	if h.shouldSend(client, wrongFamily) {
		t.Error("Other family should be filtered")
	}
}

// ---------------------------------------------------------------------------
// broadcast helpers
// ---------------------------------------------------------------------------

func TestBroadcastAlertPayload(t *testing.T) {
	h := testHub()

	alert := &alerts.Alert{
		ID:        "alrt_1",
		Tier:      alerts.TierHigh,
		FamilyID:  "fam-1",
		ChildID:   "child-1",
		Trigger:   alerts.TriggerRiskThreshold,
		RiskScore: 0.74,
		Summary:   "test",
	}
	h.BroadcastAlert(EventAlertCreated, alert)

	select {
	case ev := <-h.broadcast:
		if ev.Type != EventAlertCreated {
			t.Fatalf("type = %s, want %s", ev.Type, EventAlertCreated)
		}
		data, ok := ev.Data.(map[string]interface{})
		if !ok {
			t.Fatal("payload should be a map for subscription filtering")
		}
		if data["familyId"] != "fam-1" || data["tier"] != "high" {
			t.Errorf("payload = %v", data)
		}
	default:
		t.Fatal("no event queued")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := testHub()

	// Hub not running: fill the buffer and confirm overflow doesn't block.
	for i := 0; i < 300; i++ {
		h.Broadcast(&Event{Type: EventAlertCreated})
	}
}

func TestHubRegisterAndShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.Broadcast(&Event{Type: EventAlertCreated, Data: map[string]interface{}{"familyId": "fam-1"}})

	select {
	case <-client.send:
	case <-time.After(2 * time.Second):
		t.Fatal("registered client did not receive broadcast")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("clients after shutdown = %v", stats["connectedClients"])
	}
}
