package family

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.registry, f.registry, f.network).RegisterRoutes(r.Group("/v1"))
	return r
}

func postFamily(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/families", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterFamily(t *testing.T) {
	f := newFixture(t, &stubScorer{})
	r := newHandlerRouter(t, f)

	w := postFamily(t, r, registerFamilyRequest{
		ID: "fam-00001",
		Children: []Child{
			{ID: "child-0001", Age: 9},
			{ID: "child-0002", Age: 14},
		},
		Contacts: []GuardianContact{
			{Role: RolePrimary, Name: "Dana"},
			{Role: RoleEmergency, Name: "Sam", Phone: "+15550100"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	fam, err := f.registry.Family(context.Background(), "fam-00001")
	require.NoError(t, err)
	assert.Len(t, fam.Children, 2)
	assert.Equal(t, "fam-00001", fam.Children[0].FamilyID)

	byChild, err := f.registry.FamilyOf(context.Background(), "child-0002")
	require.NoError(t, err)
	assert.Equal(t, "fam-00001", byChild.ID)
}

func TestRegisterFamilyValidation(t *testing.T) {
	f := newFixture(t, &stubScorer{})
	r := newHandlerRouter(t, f)

	cases := []struct {
		name string
		req  registerFamilyRequest
		want string
	}{
		{
			name: "MissingChildren",
			req:  registerFamilyRequest{ID: "fam-00002"},
			want: "at least one child",
		},
		{
			name: "ShortID",
			req:  registerFamilyRequest{ID: "f1", Children: []Child{{ID: "child-0001", Age: 9}}},
			want: "8-64",
		},
		{
			name: "AdultAge",
			req:  registerFamilyRequest{ID: "fam-00003", Children: []Child{{ID: "child-0001", Age: 21}}},
			want: "between 1 and 17",
		},
		{
			name: "UnknownRole",
			req: registerFamilyRequest{
				ID:       "fam-00004",
				Children: []Child{{ID: "child-0001", Age: 9}},
				Contacts: []GuardianContact{{Role: "neighbor", Name: "Pat"}},
			},
			want: "role must be",
		},
		{
			name: "PrivateWebhook",
			req: registerFamilyRequest{
				ID:       "fam-00005",
				Children: []Child{{ID: "child-0001", Age: 9}},
				Contacts: []GuardianContact{{Role: RolePrimary, Name: "Dana", WebhookURL: "http://127.0.0.1/hook"}},
			},
			want: "contacts:",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postFamily(t, r, tc.req)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestGetFamilyNotFound(t *testing.T) {
	f := newFixture(t, &stubScorer{})
	r := newHandlerRouter(t, f)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/families/fam-nobody", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListContactViews(t *testing.T) {
	f := newFixture(t, &stubScorer{
		risk:  map[string]float64{"older": 0.2},
		trust: map[string]float64{"older": 0.9},
	})
	f.registry.Register(&Family{
		ID: "fam-00001",
		Children: []Child{
			{ID: "older", FamilyID: "fam-00001", Age: 15},
		},
	})
	f.seedProfile(t, "older", "shared-contact")
	_, err := f.network.OnChildUpdate(context.Background(), "older", "shared-contact")
	require.NoError(t, err)

	r := newHandlerRouter(t, f)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/families/fam-00001/contact-views", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Views []*ContactView `json:"views"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Views, 1)
	assert.Equal(t, "shared-contact", body.Views[0].ContactHash)
}
