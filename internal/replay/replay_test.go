package replay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/profile"
)

var capturedAt = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

func TestShouldCapture(t *testing.T) {
	cases := []struct {
		name   string
		score  float64
		topics []profile.TopicCategory
		want   bool
	}{
		{"below threshold, safe topics", 0.4, []profile.TopicCategory{profile.TopicGaming}, false},
		{"above threshold", 0.61, nil, true},
		{"at threshold", 0.6, nil, false},
		{"critical topic overrides low score", 0.1, []profile.TopicCategory{profile.TopicLocationRequest}, true},
		{"high topic is not enough", 0.1, []profile.TopicCategory{profile.TopicSecrecy}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldCapture(tc.score, tc.topics))
		})
	}
}

func TestManagerThresholdOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(NewMemoryStore(), logger)

	// Default threshold keeps the package-level behaviour.
	assert.True(t, m.ShouldCapture(0.61, nil))
	assert.False(t, m.ShouldCapture(0.5, nil))

	// A stricter configured threshold stops captures the default would allow.
	m.WithThreshold(0.9)
	assert.False(t, m.ShouldCapture(0.7, nil))
	assert.True(t, m.ShouldCapture(0.91, nil))

	// Critical topics capture regardless of the configured threshold.
	assert.True(t, m.ShouldCapture(0.1, []profile.TopicCategory{profile.TopicLocationRequest}))

	// Non-positive values leave the threshold alone.
	m.WithThreshold(0)
	assert.False(t, m.ShouldCapture(0.7, nil))
}

func TestRetentionByTier(t *testing.T) {
	assert.Equal(t, RetentionHigh, RetentionFor(alerts.TierHigh))
	assert.Equal(t, RetentionCritical, RetentionFor(alerts.TierCritical))
	assert.Equal(t, RetentionEmergency, RetentionFor(alerts.TierEmergency))
	assert.Equal(t, RetentionHigh, RetentionFor(alerts.TierElevated))
}

func newManager(t *testing.T, now *time.Time) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(store, logger).WithClock(func() time.Time { return *now })
	return m, store
}

func captureAlert(tier alerts.Tier) *alerts.Alert {
	return &alerts.Alert{
		ID:          "alrt_x",
		Tier:        tier,
		FamilyID:    "fam-1",
		ChildID:     "child-1",
		ContactHash: "abc",
		Trigger:     alerts.TriggerRiskThreshold,
	}
}

func TestCaptureSetsTierExpiry(t *testing.T) {
	now := capturedAt
	m, _ := newManager(t, &now)

	r := m.Capture(context.Background(), captureAlert(alerts.TierCritical), []Message{
		{Sender: "contact", SentAt: capturedAt, Content: "hey", Highlights: []string{"late_night"}},
	})
	require.NotNil(t, r)
	assert.Equal(t, capturedAt.Add(RetentionCritical), r.ExpiresAt)
	assert.Equal(t, "alrt_x", r.AlertID)
	assert.Len(t, r.Messages, 1)
}

func TestAccessStopsAtExpiry(t *testing.T) {
	now := capturedAt
	m, _ := newManager(t, &now)

	r := m.Capture(context.Background(), captureAlert(alerts.TierHigh), nil)
	require.NotNil(t, r)

	// Retrievable one second before expiry.
	now = r.ExpiresAt.Add(-time.Second)
	got, err := m.Access(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	// Not retrievable at expiry, even before the sweep runs.
	now = r.ExpiresAt
	_, err = m.Access(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCaptureWriteFailureIsNonFatal(t *testing.T) {
	now := capturedAt
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(failingStore{}, logger).WithClock(func() time.Time { return now })

	r := m.Capture(context.Background(), captureAlert(alerts.TierHigh), nil)
	assert.Nil(t, r)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := capturedAt
	m, store := newManager(t, &now)

	short := m.Capture(context.Background(), captureAlert(alerts.TierHigh), nil)
	long := m.Capture(context.Background(), captureAlert(alerts.TierEmergency), nil)
	require.NotNil(t, short)
	require.NotNil(t, long)

	now = capturedAt.Add(RetentionHigh + time.Hour)
	n, err := m.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(context.Background(), short.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), long.ID)
	assert.NoError(t, err)

	// A late sweep just deletes more at once.
	now = capturedAt.Add(RetentionEmergency + time.Hour)
	n, err = m.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkViewedAndActed(t *testing.T) {
	now := capturedAt
	m, store := newManager(t, &now)

	r := m.Capture(context.Background(), captureAlert(alerts.TierCritical), nil)
	require.NotNil(t, r)

	require.NoError(t, m.MarkViewed(context.Background(), r.ID))
	require.NoError(t, m.MarkActed(context.Background(), r.ID))

	got, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.Viewed)
	assert.True(t, got.Acted)

	// Flags cannot be set after expiry.
	now = r.ExpiresAt
	assert.ErrorIs(t, m.MarkViewed(context.Background(), r.ID), ErrNotFound)
}

func TestReplayEndpointExpiry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := capturedAt
	m, _ := newManager(t, &now)

	r := m.Capture(context.Background(), captureAlert(alerts.TierHigh), []Message{
		{Sender: "contact", SentAt: capturedAt, Content: "where do you live?"},
	})
	require.NotNil(t, r)

	router := gin.New()
	NewHandler(m).RegisterRoutes(router.Group("/v1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/replays/"+r.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	now = r.ExpiresAt.Add(time.Minute)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/replays/"+r.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingStore struct{}

func (failingStore) Create(ctx context.Context, r *Replay) error { return assert.AnError }
func (failingStore) Get(ctx context.Context, id string) (*Replay, error) {
	return nil, ErrNotFound
}
func (failingStore) MarkViewed(ctx context.Context, id string) error { return ErrNotFound }
func (failingStore) MarkActed(ctx context.Context, id string) error  { return ErrNotFound }
func (failingStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
