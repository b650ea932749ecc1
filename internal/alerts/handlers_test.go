package alerts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *Service, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(store, logger)

	router := gin.New()
	v1 := router.Group("/v1")
	NewHandler(service).RegisterRoutes(v1)
	return router, service, store
}

func seedAlerts(t *testing.T, store *MemoryStore, familyID string, n int) []*Alert {
	t.Helper()
	base := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	out := make([]*Alert, 0, n)
	for i := 0; i < n; i++ {
		a := &Alert{
			ID:        "alrt_" + string(rune('a'+i)),
			Tier:      TierNote,
			FamilyID:  familyID,
			ChildID:   "child-1",
			Trigger:   TriggerRiskThreshold,
			RiskScore: 0.35,
			Summary:   "test alert",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Create(context.Background(), a))
		out = append(out, a)
	}
	return out
}

func TestListFamilyAlerts(t *testing.T) {
	router, _, store := setupRouter(t)
	seedAlerts(t, store, "fam-00001", 3)
	seedAlerts(t, store, "fam-other", 2)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/families/fam-00001/alerts", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var feed Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	assert.Len(t, feed.Alerts, 3)
	assert.False(t, feed.HasMore)

	// Newest first.
	assert.Equal(t, "alrt_c", feed.Alerts[0].ID)
}

func TestListFamilyAlertsPaginates(t *testing.T) {
	router, _, store := setupRouter(t)
	seedAlerts(t, store, "fam-00001", 5)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/families/fam-00001/alerts?limit=2", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var page1 Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page1))
	require.Len(t, page1.Alerts, 2)
	require.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/families/fam-00001/alerts?limit=2&cursor="+page1.NextCursor, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var page2 Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page2))
	require.Len(t, page2.Alerts, 2)

	// No overlap across pages.
	seen := map[string]bool{}
	for _, a := range append(page1.Alerts, page2.Alerts...) {
		assert.False(t, seen[a.ID], "alert %s appeared twice", a.ID)
		seen[a.ID] = true
	}
}

func TestListFamilyAlertsBadCursor(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/families/fam-00001/alerts?cursor=not-base64", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAlertNotFound(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/alrt_missing", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAcknowledgeAlert(t *testing.T) {
	router, service, store := setupRouter(t)
	seedAlerts(t, store, "fam-00001", 1)

	var hookCalls int
	service.OnAcknowledge(func(ctx context.Context, a *Alert) { hookCalls++ })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts/alrt_a/acknowledge", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Alert Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Alert.Acknowledged)
	require.NotNil(t, resp.Alert.AcknowledgedAt)
	firstAck := *resp.Alert.AcknowledgedAt
	assert.Equal(t, 1, hookCalls)

	// Second acknowledgement is a no-op: same timestamp, no extra hook run.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/alerts/alrt_a/acknowledge", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Alert.AcknowledgedAt)
	assert.Equal(t, firstAck, *resp.Alert.AcknowledgedAt)
	assert.Equal(t, 1, hookCalls)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts/alrt_missing/acknowledge", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
