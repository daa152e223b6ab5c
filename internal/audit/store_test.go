package audit

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/db/repositories"
)

// memStore is an in-memory Store. failNext makes the next n inserts fail.
type memStore struct {
	mu       sync.Mutex
	entries  []*models.AuditLogEntry
	inserts  int
	failNext int
	scanErr  error
}

var errStoreDown = errors.New("store unavailable")

func (m *memStore) Insert(_ context.Context, e *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.failNext > 0 {
		m.failNext--
		return errStoreDown
	}
	for _, existing := range m.entries {
		if existing.ID == e.ID {
			return nil
		}
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) newestFirst(keep func(*models.AuditLogEntry) bool) []*models.AuditLogEntry {
	out := make([]*models.AuditLogEntry, 0)
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func window(entries []*models.AuditLogEntry, limit, offset int) []*models.AuditLogEntry {
	if offset >= len(entries) {
		return []*models.AuditLogEntry{}
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func (m *memStore) ListByResource(_ context.Context, resourceType, resourceID string, actions []string, limit, offset int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.newestFirst(func(e *models.AuditLogEntry) bool {
		if e.Resource.Type != resourceType || e.Resource.ID != resourceID {
			return false
		}
		return len(actions) == 0 || slices.Contains(actions, string(e.Action))
	})
	return window(matches, limit, offset), nil
}

func (m *memStore) Search(_ context.Context, f repositories.AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.newestFirst(func(e *models.AuditLogEntry) bool {
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, string(e.Action)) {
			return false
		}
		if len(f.Categories) > 0 && !slices.Contains(f.Categories, string(e.ActionCategory)) {
			return false
		}
		if len(f.ActorIDs) > 0 && !slices.Contains(f.ActorIDs, e.Actor.ID) {
			return false
		}
		if f.ResourceID != nil && e.Resource.ID != *f.ResourceID {
			return false
		}
		return true
	})
	return window(matches, limit, offset), len(matches), nil
}

func (m *memStore) ScanRange(_ context.Context, since, until *time.Time, after *repositories.AuditCursor, limit int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	matches := m.newestFirst(func(e *models.AuditLogEntry) bool {
		if since != nil && e.Timestamp.Before(*since) {
			return false
		}
		if until != nil && e.Timestamp.After(*until) {
			return false
		}
		if after != nil {
			if e.Timestamp.Before(after.Timestamp) {
				return false
			}
			if e.Timestamp.Equal(after.Timestamp) && e.ID <= after.ID {
				return false
			}
		}
		return true
	})
	slices.Reverse(matches)
	return window(matches, limit, 0), nil
}

func (m *memStore) all() []*models.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// recordingSink captures shipped entries.
type recordingSink struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
	closed  bool
}

func (r *recordingSink) Ship(_ context.Context, e *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) shipped() []*models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}
