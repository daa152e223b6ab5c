package preview

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/db/models"
)

// memGrants honours the same conditional-update contract as the SQL store.
type memGrants struct {
	mu      sync.Mutex
	grants  map[string]*models.PreviewGrant
	readErr error
}

func newMemGrants() *memGrants {
	return &memGrants{grants: make(map[string]*models.PreviewGrant)}
}

func (m *memGrants) Create(_ context.Context, g *models.PreviewGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.grants[g.Token] = &cp
	return nil
}

func (m *memGrants) GetByToken(_ context.Context, token string) (*models.PreviewGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	g, ok := m.grants[token]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memGrants) ConsumeView(_ context.Context, token string, now time.Time) (*models.PreviewGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[token]
	if !ok || !now.Before(g.ExpiresAt) || g.Exhausted() {
		return nil, nil
	}
	g.ViewCount++
	cp := *g
	return &cp, nil
}

func (m *memGrants) ListActiveByDocument(_ context.Context, documentID string, now time.Time) ([]*models.PreviewGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PreviewGrant, 0)
	for _, g := range m.grants {
		if g.DocumentID == documentID && now.Before(g.ExpiresAt) && !g.Exhausted() {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *memGrants) viewCount(token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[token].ViewCount
}

type memDocuments map[string]*models.Document

func (m memDocuments) GetByID(_ context.Context, id string) (*models.Document, error) {
	return m[id], nil
}

// memContent serves a fixed body for documents that have a content key.
type memContent struct{}

func (memContent) Load(_ context.Context, doc *models.Document) ([]byte, string, error) {
	if !doc.HasContent() {
		return nil, "", content.ErrNoContent
	}
	return []byte("<h1>" + doc.Title + "</h1>"), "text/html; charset=utf-8", nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (r *recordingAuditor) LogAsync(e *models.AuditLogEntry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return "audit-id", nil
}

func (r *recordingAuditor) byAction(action models.AuditAction) []*models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
