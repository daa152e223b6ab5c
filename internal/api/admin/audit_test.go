package admin

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshield/docshield/internal/audit"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/policy"
)

func newAuditRouter(q *fakeQuerier) *gin.Engine {
	handlers := NewAuditHandlers(q, time.Second)
	r := gin.New()
	g := r.Group("/audit", asEditor)
	g.GET("/resources/:type/:id", handlers.GetResourceHistory)
	g.GET("/search", handlers.SearchAuditLog)
	g.POST("/verify", handlers.VerifyIntegrity)
	return r
}

func TestSearchAuditLog_ParsesFilters(t *testing.T) {
	q := &fakeQuerier{result: &audit.SearchResult{Total: 0}}
	r := newAuditRouter(q)

	w := serveJSON(t, r, http.MethodGet,
		"/audit/search?action=update&action=approve,reject&category=workflow&actor_email=a@example.com"+
			"&since=2026-03-01T00:00:00Z&until=2026-03-02T00:00:00Z&q=budget&limit=20&offset=40", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []models.AuditAction{"update", "approve", "reject"}, q.gotFilters.Actions)
	assert.Equal(t, []models.ActionCategory{"workflow"}, q.gotFilters.Categories)
	assert.Equal(t, []string{"a@example.com"}, q.gotFilters.ActorEmails)
	require.NotNil(t, q.gotFilters.Since)
	assert.True(t, q.gotFilters.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, q.gotFilters.Query)
	assert.Equal(t, "budget", *q.gotFilters.Query)
	assert.Equal(t, audit.Page{Limit: 20, Offset: 40}, q.gotPage)

	body := decodeBody(t, w)
	assert.Equal(t, []interface{}{}, body["entries"])
}

func TestSearchAuditLog_BadParams(t *testing.T) {
	for _, path := range []string{
		"/audit/search?since=yesterday",
		"/audit/search?limit=ten",
	} {
		w := serveJSON(t, newAuditRouter(&fakeQuerier{}), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestSearchAuditLog_ServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid action", &audit.InvalidActionError{Action: "nuke"}, http.StatusBadRequest},
		{"invalid filter", audit.ErrInvalidFilter, http.StatusBadRequest},
		{"store down", errStore, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveJSON(t, newAuditRouter(&fakeQuerier{err: tt.err}), http.MethodGet, "/audit/search", nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetResourceHistory(t *testing.T) {
	q := &fakeQuerier{history: []*models.AuditLogEntry{{ID: "e1", Action: models.ActionUpdate}}}
	r := newAuditRouter(q)

	w := serveJSON(t, r, http.MethodGet, "/audit/resources/document/doc-1?action=update&limit=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.AuditAction{"update"}, q.gotHistory.Actions)
	assert.Equal(t, 5, q.gotHistory.Limit)
	entries := decodeBody(t, w)["entries"].([]interface{})
	assert.Len(t, entries, 1)
}

func TestVerifyIntegrity_AttributesToCaller(t *testing.T) {
	q := &fakeQuerier{report: &audit.IntegrityReport{ValidCount: 4, InvalidEntryIDs: []string{"e3"}}}
	r := newAuditRouter(q)

	w := serveJSON(t, r, http.MethodPost, "/audit/verify", map[string]string{"since": "2026-03-01T00:00:00Z"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.EqualValues(t, 4, body["valid_count"])
	assert.Equal(t, []interface{}{"e3"}, body["invalid_entry_ids"])
	assert.Equal(t, "user-1", q.requestedBy.ID)
}

func TestVerifyIntegrity_RejectsInvertedRange(t *testing.T) {
	w := serveJSON(t, newAuditRouter(&fakeQuerier{}), http.MethodPost, "/audit/verify", map[string]string{
		"since": "2026-03-02T00:00:00Z",
		"until": "2026-03-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPolicies(t *testing.T) {
	r := gin.New()
	r.GET("/policies", NewPolicyHandlers(policy.NewEngine(policy.DefaultTable())).GetPolicies)

	w := serveJSON(t, r, http.MethodGet, "/policies", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	embargoed := body["embargoed"].(map[string]interface{})
	assert.Equal(t, "4h0m0s", embargoed["default_expiry"])
	assert.EqualValues(t, 3, embargoed["default_max_views"])
	assert.Equal(t, "required", embargoed["ip_restriction"])
	normal := body["normal"].(map[string]interface{})
	assert.Nil(t, normal["default_max_views"])
	assert.EqualValues(t, 7*24*3600, normal["default_expiry_seconds"])
}
