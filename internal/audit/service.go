package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/docshield/docshield/internal/config"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/db/repositories"
	"github.com/docshield/docshield/internal/safego"
	"github.com/docshield/docshield/internal/telemetry"
	"github.com/docshield/docshield/pkg/checksum"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500

	// IntegrityResourceType is the resource type of integrity_verify summaries.
	IntegrityResourceType = "audit_log"
	// maxReportedInvalidIDs caps the ids copied into a summary entry.
	maxReportedInvalidIDs = 100
)

// SystemActor attributes entries written by background jobs.
var SystemActor = models.Actor{ID: "system", Email: "system@docshield.internal"}

// Store is the persistence contract of the audit log. Entries are only ever
// inserted; there is no update or delete.
type Store interface {
	Insert(ctx context.Context, e *models.AuditLogEntry) error
	ListByResource(ctx context.Context, resourceType, resourceID string, actions []string, limit, offset int) ([]*models.AuditLogEntry, error)
	Search(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error)
	ScanRange(ctx context.Context, since, until *time.Time, after *repositories.AuditCursor, limit int) ([]*models.AuditLogEntry, error)
}

// HistoryOptions pages and filters a resource history.
type HistoryOptions struct {
	Limit   int
	Offset  int
	Actions []models.AuditAction
}

// SearchFilters narrows a search. Empty slices and nil pointers do not filter.
type SearchFilters struct {
	Actions      []models.AuditAction
	Categories   []models.ActionCategory
	ActorIDs     []string
	ActorEmails  []string
	ResourceType *string
	ResourceID   *string
	Since        *time.Time
	Until        *time.Time
	Query        *string
}

// Page selects a window of results.
type Page struct {
	Limit  int
	Offset int
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int                     `json:"total"`
}

// IntegrityReport is the outcome of one verification run. ValidCount covers
// business entries only; integrity_verify summaries written by earlier runs
// are checked too but counted in SummaryCount, so repeating a run over the
// same data reports the same ValidCount.
type IntegrityReport struct {
	ValidCount      int        `json:"valid_count"`
	SummaryCount    int        `json:"summary_count"`
	InvalidEntryIDs []string   `json:"invalid_entry_ids"`
	Since           *time.Time `json:"since,omitempty"`
	Until           *time.Time `json:"until,omitempty"`
	CheckedAt       time.Time  `json:"checked_at"`
}

// Service is the audit log write, query and verification path.
type Service struct {
	store     Store
	fallback  Sink
	forwarder Sink
	cfg       config.AuditConfig
	now       func() time.Time

	mu     sync.Mutex
	lastTS time.Time

	wg sync.WaitGroup
}

// NewService creates an audit service. fallback receives entries the store
// rejected after every retry; a nil fallback logs them.
func NewService(store Store, fallback Sink, cfg config.AuditConfig) *Service {
	if fallback == nil {
		fallback = NewLogSink(nil)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 100 * time.Millisecond
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Verify.PageSize <= 0 {
		cfg.Verify.PageSize = 1000
	}
	return &Service{
		store:    store,
		fallback: fallback,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetForwarder installs a sink that receives every committed entry.
func (s *Service) SetForwarder(sink Sink) {
	s.forwarder = sink
}

// Log validates, stamps and persists entry, returning its id. Validation
// errors are returned before anything is written. A storage failure that
// survives every retry diverts the entry to the fallback sink and returns
// *WriteFailedError carrying the id.
func (s *Service) Log(ctx context.Context, entry *models.AuditLogEntry) (string, error) {
	if err := s.prepare(entry); err != nil {
		return "", err
	}
	if err := s.persist(ctx, entry); err != nil {
		return entry.ID, err
	}
	return entry.ID, nil
}

// LogAsync validates and stamps entry synchronously, then persists it on a
// background goroutine bounded by the configured write timeout. The returned
// id is final whether or not the write later succeeds.
func (s *Service) LogAsync(entry *models.AuditLogEntry) (string, error) {
	if err := s.prepare(entry); err != nil {
		return "", err
	}

	s.wg.Add(1)
	safego.Go("audit-write", func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		_ = s.persist(ctx, entry)
	})
	return entry.ID, nil
}

// Wait blocks until every pending LogAsync write has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close drains pending writes and closes the sinks.
func (s *Service) Close() error {
	s.Wait()
	var err error
	if s.forwarder != nil {
		err = s.forwarder.Close()
	}
	if ferr := s.fallback.Close(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func validate(entry *models.AuditLogEntry) error {
	if !entry.Action.Valid() {
		return &InvalidActionError{Action: string(entry.Action)}
	}
	if entry.Actor.ID == "" {
		return &MissingActorError{Field: "id"}
	}
	if entry.Actor.Email == "" {
		return &MissingActorError{Field: "email"}
	}
	if entry.Resource.Type == "" || entry.Resource.ID == "" {
		return ErrMissingResource
	}
	if len(entry.ValueBefore) > 0 && !json.Valid(entry.ValueBefore) {
		return fmt.Errorf("%w: value_before", ErrInvalidSnapshot)
	}
	if len(entry.ValueAfter) > 0 && !json.Valid(entry.ValueAfter) {
		return fmt.Errorf("%w: value_after", ErrInvalidSnapshot)
	}
	return nil
}

// prepare validates entry and fills id, timestamp, category and checksum.
// Snapshots and metadata are normalised to the form the store returns them
// in, so a re-read entry hashes to the same value.
func (s *Service) prepare(entry *models.AuditLogEntry) error {
	if err := validate(entry); err != nil {
		return err
	}

	var err error
	if entry.ValueBefore, err = canonicalRaw(entry.ValueBefore); err != nil {
		return fmt.Errorf("%w: value_before: %v", ErrInvalidSnapshot, err)
	}
	if entry.ValueAfter, err = canonicalRaw(entry.ValueAfter); err != nil {
		return fmt.Errorf("%w: value_after: %v", ErrInvalidSnapshot, err)
	}
	if entry.Metadata, err = normalizeMetadata(entry.Metadata); err != nil {
		return fmt.Errorf("invalid audit metadata: %w", err)
	}

	entry.ID = uuid.NewString()
	entry.Timestamp = s.nextTimestamp()
	entry.ActionCategory = entry.Action.Category()
	entry.Checksum = checksum.Compute(entry.ChecksumFields())
	return nil
}

// nextTimestamp returns the current time at millisecond precision, nudged
// forward so that successive entries from this writer strictly increase.
func (s *Service) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Truncate(time.Millisecond)
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Millisecond)
	}
	s.lastTS = ts
	return ts
}

func (s *Service) persist(ctx context.Context, entry *models.AuditLogEntry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Retry.InitialInterval
	b.MaxInterval = s.cfg.Retry.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Insert(ctx, entry)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.AuditWriteRetriesTotal.Inc()
			slog.Warn("audit write failed, retrying", "audit_id", entry.ID, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		telemetry.AuditWritesTotal.WithLabelValues("failed").Inc()
		shipCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
		defer cancel()
		if serr := s.fallback.Ship(shipCtx, entry); serr != nil {
			slog.Error("audit fallback sink failed", "audit_id", entry.ID, "error", serr)
		}
		return &WriteFailedError{EntryID: entry.ID, Err: err}
	}

	telemetry.AuditWritesTotal.WithLabelValues("ok").Inc()
	if s.forwarder != nil {
		if ferr := s.forwarder.Ship(ctx, entry); ferr != nil {
			slog.Warn("audit forwarder rejected entry", "audit_id", entry.ID, "error", ferr)
		}
	}
	return nil
}

// GetResourceHistory returns entries for one resource, newest first.
func (s *Service) GetResourceHistory(ctx context.Context, resourceType, resourceID string, opts HistoryOptions) ([]*models.AuditLogEntry, error) {
	actions, err := actionStrings(opts.Actions)
	if err != nil {
		return nil, err
	}
	limit, offset := clampPage(opts.Limit, opts.Offset)
	entries, err := s.store.ListByResource(ctx, resourceType, resourceID, actions, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource history: %w", err)
	}
	return entries, nil
}

// Search returns one page of entries matching filters, newest first, and the
// total number of matches.
func (s *Service) Search(ctx context.Context, filters SearchFilters, page Page) (*SearchResult, error) {
	actions, err := actionStrings(filters.Actions)
	if err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(filters.Categories))
	for _, c := range filters.Categories {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidFilter, c)
		}
		categories = append(categories, string(c))
	}
	if filters.Since != nil && filters.Until != nil && filters.Until.Before(*filters.Since) {
		return nil, fmt.Errorf("%w: until is before since", ErrInvalidFilter)
	}

	limit, offset := clampPage(page.Limit, page.Offset)
	entries, total, err := s.store.Search(ctx, repositories.AuditFilters{
		Actions:      actions,
		Categories:   categories,
		ActorIDs:     filters.ActorIDs,
		ActorEmails:  filters.ActorEmails,
		ResourceType: filters.ResourceType,
		ResourceID:   filters.ResourceID,
		Since:        filters.Since,
		Until:        filters.Until,
		Query:        filters.Query,
	}, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	return &SearchResult{Entries: entries, Total: total}, nil
}

// VerifyIntegrity recomputes the checksum of every entry in [since, until]
// and reports the ids that do not match. Scanned rows are never modified.
// Tampered summaries are reported like any other entry.
// After the scan a single integrity_verify summary attributed to requestedBy
// is appended; failing to write it does not fail the run.
func (s *Service) VerifyIntegrity(ctx context.Context, since, until *time.Time, requestedBy models.Actor) (*IntegrityReport, error) {
	report := &IntegrityReport{
		InvalidEntryIDs: make([]string, 0),
		Since:           since,
		Until:           until,
	}

	var cursor *repositories.AuditCursor
	for {
		page, err := s.store.ScanRange(ctx, since, until, cursor, s.cfg.Verify.PageSize)
		if err != nil {
			telemetry.AuditIntegrityRunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		for _, e := range page {
			switch {
			case !entryValid(e):
				report.InvalidEntryIDs = append(report.InvalidEntryIDs, e.ID)
			case e.Action == models.ActionIntegrityVerify:
				report.SummaryCount++
			default:
				report.ValidCount++
			}
		}
		if len(page) < s.cfg.Verify.PageSize {
			break
		}
		last := page[len(page)-1]
		cursor = &repositories.AuditCursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	report.CheckedAt = s.now().UTC()

	result := "clean"
	if len(report.InvalidEntryIDs) > 0 {
		result = "mismatch"
		slog.Error("audit integrity verification found mismatched entries",
			"invalid_count", len(report.InvalidEntryIDs),
			"valid_count", report.ValidCount)
	}
	telemetry.AuditIntegrityRunsTotal.WithLabelValues(result).Inc()
	telemetry.AuditIntegrityInvalidEntries.Set(float64(len(report.InvalidEntryIDs)))

	if _, err := s.Log(ctx, summaryEntry(report, requestedBy)); err != nil {
		slog.Error("failed to record integrity verification summary", "error", err)
	}
	return report, nil
}

// entryValid recomputes the checksum of e. The writer never stores a JSON
// null snapshot, so one found in the store means the row was altered.
func entryValid(e *models.AuditLogEntry) bool {
	if isJSONNull(e.ValueBefore) || isJSONNull(e.ValueAfter) {
		return false
	}
	sum, err := checksum.Sum(e.ChecksumFields())
	return err == nil && sum == e.Checksum
}

func summaryEntry(report *IntegrityReport, actor models.Actor) *models.AuditLogEntry {
	ids := report.InvalidEntryIDs
	if len(ids) > maxReportedInvalidIDs {
		ids = ids[:maxReportedInvalidIDs]
	}
	reported := make([]interface{}, len(ids))
	for i, id := range ids {
		reported[i] = id
	}

	metadata := map[string]interface{}{
		"valid_count":       report.ValidCount,
		"summary_count":     report.SummaryCount,
		"invalid_count":     len(report.InvalidEntryIDs),
		"invalid_entry_ids": reported,
	}
	if report.Since != nil {
		metadata["since"] = report.Since.UTC().Format(time.RFC3339Nano)
	}
	if report.Until != nil {
		metadata["until"] = report.Until.UTC().Format(time.RFC3339Nano)
	}
	summary := fmt.Sprintf("integrity verification: %d valid, %d invalid", report.ValidCount, len(report.InvalidEntryIDs))

	return &models.AuditLogEntry{
		Actor:         actor,
		Action:        models.ActionIntegrityVerify,
		Resource:      models.Resource{Type: IntegrityResourceType, ID: uuid.NewString()},
		ChangeSummary: &summary,
		Metadata:      metadata,
	}
}

func actionStrings(actions []models.AuditAction) ([]string, error) {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		if !a.Valid() {
			return nil, &InvalidActionError{Action: string(a)}
		}
		out = append(out, string(a))
	}
	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// canonicalRaw normalises a snapshot. A JSON null is stored as absent so
// that only one representation of "no value" exists.
func canonicalRaw(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || isJSONNull(raw) {
		return nil, nil
	}
	out, err := checksum.Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// normalizeMetadata round-trips m through canonical JSON so numbers become
// json.Number and nested values become plain maps and slices.
func normalizeMetadata(m map[string]interface{}) (map[string]interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	canonical, err := checksum.Canonicalize(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) > 0 && string(bytes.TrimSpace(raw)) == "null"
}
