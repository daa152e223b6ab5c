package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docshield/docshield/internal/audit"
	"github.com/docshield/docshield/internal/auth"
	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/db/repositories"
	"github.com/docshield/docshield/internal/middleware"
	"github.com/docshield/docshield/internal/preview"
)

var errStore = errors.New("store unavailable")

var editorClaims = &auth.Claims{UserID: "user-1", Email: "editor@example.com", Scopes: []string{"admin"}}

// asEditor stands in for AuthMiddleware.
func asEditor(c *gin.Context) {
	c.Set(middleware.ClaimsKey, editorClaims)
	c.Set(middleware.UserIDKey, editorClaims.UserID)
	c.Set(middleware.ScopesKey, editorClaims.Scopes)
}

func serveJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.10:4444"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type memDocuments struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	readErr   error
	updateErr error
	updates   int
}

func newMemDocuments(docs ...*models.Document) *memDocuments {
	m := &memDocuments{docs: map[string]*models.Document{}}
	for _, d := range docs {
		m.docs[d.Collection+"/"+d.Slug] = d
	}
	return m
}

func (m *memDocuments) GetByCollectionSlug(_ context.Context, collection, slug string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	d, ok := m.docs[collection+"/"+slug]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memDocuments) Create(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.docs[d.Collection+"/"+d.Slug] = &cp
	return nil
}

func (m *memDocuments) UpdateMetadata(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for k, existing := range m.docs {
		if existing.ID == d.ID {
			cp := *d
			m.docs[k] = &cp
			m.updates++
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memDocuments) SetContent(_ context.Context, id, key, contentType string, encrypted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.docs {
		if existing.ID == id {
			k := key
			existing.ContentKey = &k
			existing.ContentType = contentType
			existing.ContentEncrypted = encrypted
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memDocuments) get(collection, slug string) *models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[collection+"/"+slug]
}

type fakeContent struct {
	mu        sync.Mutex
	saved     map[string][]byte
	deleted   []string
	encrypt   bool
	saveErr   error
	resealFor map[string]bool
}

func newFakeContent() *fakeContent {
	return &fakeContent{saved: map[string][]byte{}, resealFor: map[string]bool{}}
}

func (f *fakeContent) Save(_ context.Context, doc *models.Document, body []byte, contentType string) (*content.Stored, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	key := "previews/" + doc.ID + "/" + uuid.NewString()
	f.saved[key] = body
	return &content.Stored{Key: key, ContentType: contentType, Encrypted: f.encrypt, Size: int64(len(body)), Checksum: "abc123"}, nil
}

func (f *fakeContent) Reseal(ctx context.Context, doc *models.Document) (*content.Stored, error) {
	if !f.resealFor[doc.ID] {
		return nil, nil
	}
	f.mu.Lock()
	f.encrypt = true
	f.mu.Unlock()
	return f.Save(ctx, doc, []byte("resealed"), doc.ContentType)
}

func (f *fakeContent) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (r *recordingAuditor) LogAsync(entry *models.AuditLogEntry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return "entry-" + string(entry.Action), nil
}

func (r *recordingAuditor) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

func (r *recordingAuditor) last() *models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type fakeIssuer struct {
	err        error
	result     *preview.GrantResult
	grants     []*models.PreviewGrant
	overrides  preview.GrantOverrides
	requestCtx models.RequestContext
}

func (f *fakeIssuer) CreateGrant(_ context.Context, _ *models.Document, _ models.Actor, o preview.GrantOverrides, rc models.RequestContext) (*preview.GrantResult, error) {
	f.overrides = o
	f.requestCtx = rc
	return f.result, f.err
}

func (f *fakeIssuer) ListActiveGrants(context.Context, string) ([]*models.PreviewGrant, error) {
	return f.grants, f.err
}

type fakeQuerier struct {
	history     []*models.AuditLogEntry
	result      *audit.SearchResult
	report      *audit.IntegrityReport
	err         error
	gotFilters  audit.SearchFilters
	gotPage     audit.Page
	gotHistory  audit.HistoryOptions
	requestedBy models.Actor
}

func (f *fakeQuerier) GetResourceHistory(_ context.Context, _, _ string, opts audit.HistoryOptions) ([]*models.AuditLogEntry, error) {
	f.gotHistory = opts
	return f.history, f.err
}

func (f *fakeQuerier) Search(_ context.Context, filters audit.SearchFilters, page audit.Page) (*audit.SearchResult, error) {
	f.gotFilters = filters
	f.gotPage = page
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeQuerier) VerifyIntegrity(_ context.Context, _, _ *time.Time, requestedBy models.Actor) (*audit.IntegrityReport, error) {
	f.requestedBy = requestedBy
	return f.report, f.err
}
