package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	handlerChild = "child-0001"
	handlerHash  = "a3f2b8c91d4e5f60718293a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4"
)

func newHandlerRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r
}

func seedProfile(t *testing.T, svc *Service, personalQuestions int) {
	t.Helper()
	_, applied, err := svc.ApplyEvidence(context.Background(), handlerChild, handlerHash, Evidence{
		ID:                "ev-seed-1",
		Kind:              SignalMessageActivity,
		ObservedAt:        time.Now(),
		MessageCount:      40,
		PersonalQuestions: personalQuestions,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func TestListContacts(t *testing.T) {
	svc := newTestService(t, &countingScorer{}, &fixedStages{})
	seedProfile(t, svc, 40)
	r := newHandlerRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/children/"+handlerChild+"/contacts", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ChildID  string           `json:"childId"`
		Contacts []ContactSummary `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Contacts, 1)
	assert.Equal(t, handlerHash, body.Contacts[0].ContactHash)
	assert.InDelta(t, 0.4, body.Contacts[0].RiskScore, 0.001)
	assert.Equal(t, "new", body.Contacts[0].Trend)
}

func TestListContactsEmptyChild(t *testing.T) {
	svc := newTestService(t, &countingScorer{}, &fixedStages{})
	r := newHandlerRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/children/child-0002/contacts", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Contacts []ContactSummary `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Contacts)
}

func TestListContactsRejectsMalformedID(t *testing.T) {
	svc := newTestService(t, &countingScorer{}, &fixedStages{})
	r := newHandlerRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/children/x/contacts", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_child_id")
}

func TestGetContact(t *testing.T) {
	svc := newTestService(t, &countingScorer{}, &fixedStages{})
	seedProfile(t, svc, 70)
	r := newHandlerRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/children/"+handlerChild+"/contacts/"+handlerHash, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got ContactSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.InDelta(t, 0.7, got.RiskScore, 0.001)
}

func TestGetContactNotFound(t *testing.T) {
	svc := newTestService(t, &countingScorer{}, &fixedStages{})
	r := newHandlerRouter(t, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/children/"+handlerChild+"/contacts/"+handlerHash, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrendDirection(t *testing.T) {
	stable := map[TopicCategory]float64{TopicGaming: 0.8, TopicPersonal: 0.2}
	heavier := map[TopicCategory]float64{TopicGaming: 0.5, TopicPersonal: 0.5}

	p := &ContactProfile{Sessions: []TopicSession{
		{TopicPercentages: stable},
		{TopicPercentages: heavier},
	}}
	assert.Equal(t, "rising", trend(p))

	p.Sessions = []TopicSession{
		{TopicPercentages: heavier},
		{TopicPercentages: stable},
	}
	assert.Equal(t, "falling", trend(p))

	p.Sessions = []TopicSession{
		{TopicPercentages: stable},
		{TopicPercentages: stable},
	}
	assert.Equal(t, "stable", trend(p))

	p.Sessions = p.Sessions[:1]
	assert.Equal(t, "new", trend(p))
}
