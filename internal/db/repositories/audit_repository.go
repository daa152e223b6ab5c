// audit_repository.go implements AuditRepository, the append-only store for
// audit log entries. It exposes inserts, filtered reads and an ordered keyset
// scan for integrity verification. There is deliberately no update or delete.
package repositories

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/pkg/checksum"
)

const auditColumns = `id, timestamp, actor_id, actor_email, actor_name, action, action_category,
	resource_type, resource_id, resource_title, field_path, value_before, value_after, change_summary,
	ip_address, user_agent, session_id, correlation_id, metadata, checksum`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows a search. Empty slices and nil pointers do not filter.
type AuditFilters struct {
	Actions      []string
	Categories   []string
	ActorIDs     []string
	ActorEmails  []string
	ResourceType *string
	ResourceID   *string
	Since        *time.Time
	Until        *time.Time
	// Query is matched case-insensitively against resource title, change
	// summary and actor email.
	Query *string
}

// AuditCursor is the (timestamp, id) position of the last entry returned by ScanRange.
type AuditCursor struct {
	Timestamp time.Time
	ID        string
}

// Insert writes one entry. Inserting an id that already exists is a no-op,
// which makes retried writes idempotent.
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditLogEntry) error {
	var metadata interface{}
	if len(e.Metadata) > 0 {
		canonical, err := checksum.Canonicalize(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(canonical)
	}

	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.Timestamp.UTC(),
		e.Actor.ID,
		e.Actor.Email,
		e.Actor.DisplayName,
		string(e.Action),
		string(e.ActionCategory),
		e.Resource.Type,
		e.Resource.ID,
		e.Resource.Title,
		e.FieldPath,
		jsonParam(e.ValueBefore),
		jsonParam(e.ValueAfter),
		e.ChangeSummary,
		e.RequestContext.IP,
		e.RequestContext.UserAgent,
		e.RequestContext.SessionID,
		e.RequestContext.CorrelationID,
		metadata,
		e.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the history of one resource, newest first.
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string, actions []string, limit, offset int) ([]*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE resource_type = $1 AND resource_id = $2`
	args := []interface{}{resourceType, resourceID}
	paramIndex := 3

	if len(actions) > 0 {
		query += fmt.Sprintf(` AND action = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(actions))
		paramIndex++
	}

	query += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource history: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// Search retrieves entries matching filters, newest first, together with the
// total number of matching entries.
func (r *AuditRepository) Search(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	where, args := buildAuditWhere(filters)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	paramIndex := len(args) + 1
	query := `SELECT ` + auditColumns + ` FROM audit_log` + where +
		fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ScanRange returns up to limit entries in (timestamp, id) order, starting
// strictly after the cursor when one is given.
func (r *AuditRepository) ScanRange(ctx context.Context, since, until *time.Time, after *AuditCursor, limit int) ([]*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE 1=1`
	args := make([]interface{}, 0, 5)
	paramIndex := 1

	if since != nil {
		query += fmt.Sprintf(` AND timestamp >= $%d`, paramIndex)
		args = append(args, since.UTC())
		paramIndex++
	}
	if until != nil {
		query += fmt.Sprintf(` AND timestamp <= $%d`, paramIndex)
		args = append(args, until.UTC())
		paramIndex++
	}
	if after != nil {
		query += fmt.Sprintf(` AND (timestamp, id) > ($%d, $%d)`, paramIndex, paramIndex+1)
		args = append(args, after.Timestamp.UTC(), after.ID)
		paramIndex += 2
	}

	query += fmt.Sprintf(` ORDER BY timestamp ASC, id ASC LIMIT $%d`, paramIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func buildAuditWhere(f AuditFilters) (string, []interface{}) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if len(f.Actions) > 0 {
		where += fmt.Sprintf(` AND action = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(f.Actions))
		paramIndex++
	}
	if len(f.Categories) > 0 {
		where += fmt.Sprintf(` AND action_category = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(f.Categories))
		paramIndex++
	}
	if len(f.ActorIDs) > 0 {
		where += fmt.Sprintf(` AND actor_id = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(f.ActorIDs))
		paramIndex++
	}
	if len(f.ActorEmails) > 0 {
		lowered := make([]string, len(f.ActorEmails))
		for i, email := range f.ActorEmails {
			lowered[i] = strings.ToLower(email)
		}
		where += fmt.Sprintf(` AND lower(actor_email) = ANY($%d)`, paramIndex)
		args = append(args, pq.Array(lowered))
		paramIndex++
	}
	if f.ResourceType != nil {
		where += fmt.Sprintf(` AND resource_type = $%d`, paramIndex)
		args = append(args, *f.ResourceType)
		paramIndex++
	}
	if f.ResourceID != nil {
		where += fmt.Sprintf(` AND resource_id = $%d`, paramIndex)
		args = append(args, *f.ResourceID)
		paramIndex++
	}
	if f.Since != nil {
		where += fmt.Sprintf(` AND timestamp >= $%d`, paramIndex)
		args = append(args, f.Since.UTC())
		paramIndex++
	}
	if f.Until != nil {
		where += fmt.Sprintf(` AND timestamp <= $%d`, paramIndex)
		args = append(args, f.Until.UTC())
		paramIndex++
	}
	if f.Query != nil && strings.TrimSpace(*f.Query) != "" {
		where += fmt.Sprintf(` AND (resource_title ILIKE $%d OR change_summary ILIKE $%d OR actor_email ILIKE $%d)`,
			paramIndex, paramIndex, paramIndex)
		args = append(args, "%"+escapeLike(strings.TrimSpace(*f.Query))+"%")
	}

	return where, args
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// jsonParam converts a raw JSON value to a query parameter. Sending text
// rather than []byte keeps lib/pq from encoding it as bytea.
func jsonParam(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanAuditEntries(rows *sql.Rows) ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		e := &models.AuditLogEntry{}
		var action, category string
		var valueBefore, valueAfter, metadata []byte

		err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.Actor.ID,
			&e.Actor.Email,
			&e.Actor.DisplayName,
			&action,
			&category,
			&e.Resource.Type,
			&e.Resource.ID,
			&e.Resource.Title,
			&e.FieldPath,
			&valueBefore,
			&valueAfter,
			&e.ChangeSummary,
			&e.RequestContext.IP,
			&e.RequestContext.UserAgent,
			&e.RequestContext.SessionID,
			&e.RequestContext.CorrelationID,
			&metadata,
			&e.Checksum,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.Timestamp = e.Timestamp.UTC()
		e.Action = models.AuditAction(action)
		e.ActionCategory = models.ActionCategory(category)
		if len(valueBefore) > 0 {
			e.ValueBefore = json.RawMessage(valueBefore)
		}
		if len(valueAfter) > 0 {
			e.ValueAfter = json.RawMessage(valueAfter)
		}
		if len(metadata) > 0 {
			dec := json.NewDecoder(bytes.NewReader(metadata))
			dec.UseNumber()
			if err := dec.Decode(&e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of audit entry %s: %w", e.ID, err)
			}
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
