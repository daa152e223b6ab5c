// Package models - audit_log.go defines the append-only audit log entry and the
// closed set of actions it can record.
package models

import (
	"encoding/json"
	"time"
)

// TimestampLayout is how entry timestamps are rendered into checksum input.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// AuditAction is a closed enumeration of auditable actions.
type AuditAction string

const (
	ActionCreate      AuditAction = "create"
	ActionUpdate      AuditAction = "update"
	ActionUpdateField AuditAction = "update_field"
	ActionDelete      AuditAction = "delete"
	ActionRestore     AuditAction = "restore"

	ActionView            AuditAction = "view"
	ActionDownload        AuditAction = "download"
	ActionExport          AuditAction = "export"
	ActionSharePreview    AuditAction = "share_preview"
	ActionPreviewView     AuditAction = "preview_view"
	ActionPreviewRejected AuditAction = "preview_rejected"
	ActionLogin           AuditAction = "login"
	ActionLogout          AuditAction = "logout"

	ActionApprove   AuditAction = "approve"
	ActionReject    AuditAction = "reject"
	ActionPublish   AuditAction = "publish"
	ActionUnpublish AuditAction = "unpublish"

	ActionPermissionGrant  AuditAction = "permission_grant"
	ActionPermissionRevoke AuditAction = "permission_revoke"
	ActionSettingsUpdate   AuditAction = "settings_update"
	ActionIntegrityVerify  AuditAction = "integrity_verify"

	ActionCommentCreate  AuditAction = "comment_create"
	ActionCommentUpdate  AuditAction = "comment_update"
	ActionCommentDelete  AuditAction = "comment_delete"
	ActionCommentResolve AuditAction = "comment_resolve"
)

// ActionCategory groups actions for filtering.
type ActionCategory string

const (
	CategoryContent  ActionCategory = "content"
	CategoryWorkflow ActionCategory = "workflow"
	CategoryAccess   ActionCategory = "access"
	CategorySystem   ActionCategory = "system"
	CategoryComment  ActionCategory = "comment"
)

var actionCategories = map[AuditAction]ActionCategory{
	ActionCreate:      CategoryContent,
	ActionUpdate:      CategoryContent,
	ActionUpdateField: CategoryContent,
	ActionDelete:      CategoryContent,
	ActionRestore:     CategoryContent,

	ActionView:            CategoryAccess,
	ActionDownload:        CategoryAccess,
	ActionExport:          CategoryAccess,
	ActionSharePreview:    CategoryAccess,
	ActionPreviewView:     CategoryAccess,
	ActionPreviewRejected: CategoryAccess,
	ActionLogin:           CategoryAccess,
	ActionLogout:          CategoryAccess,

	ActionApprove:   CategoryWorkflow,
	ActionReject:    CategoryWorkflow,
	ActionPublish:   CategoryWorkflow,
	ActionUnpublish: CategoryWorkflow,

	ActionPermissionGrant:  CategorySystem,
	ActionPermissionRevoke: CategorySystem,
	ActionSettingsUpdate:   CategorySystem,
	ActionIntegrityVerify:  CategorySystem,

	ActionCommentCreate:  CategoryComment,
	ActionCommentUpdate:  CategoryComment,
	ActionCommentDelete:  CategoryComment,
	ActionCommentResolve: CategoryComment,
}

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	_, ok := actionCategories[a]
	return ok
}

// Category returns the category of a, or "" for unknown actions.
func (a AuditAction) Category() ActionCategory {
	return actionCategories[a]
}

// Valid reports whether c is a known category.
func (c ActionCategory) Valid() bool {
	switch c {
	case CategoryContent, CategoryWorkflow, CategoryAccess, CategorySystem, CategoryComment:
		return true
	}
	return false
}

// Actor identifies who performed an action.
type Actor struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
}

// Resource identifies what an action was performed on. Title is a snapshot
// taken when the entry was written.
type Resource struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
}

// RequestContext is best-effort information about the originating request.
type RequestContext struct {
	IP            *string `json:"ip,omitempty"`
	UserAgent     *string `json:"user_agent,omitempty"`
	SessionID     *string `json:"session_id,omitempty"`
	CorrelationID *string `json:"correlation_id,omitempty"`
}

// AuditLogEntry is one immutable record in the audit log.
type AuditLogEntry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Actor          Actor          `json:"actor"`
	Action         AuditAction    `json:"action"`
	ActionCategory ActionCategory `json:"action_category"`
	Resource       Resource       `json:"resource"`
	FieldPath      *string        `json:"field_path,omitempty"`
	// ValueBefore and ValueAfter are opaque JSON snapshots.
	ValueBefore    json.RawMessage        `json:"value_before,omitempty"`
	ValueAfter     json.RawMessage        `json:"value_after,omitempty"`
	ChangeSummary  *string                `json:"change_summary,omitempty"`
	RequestContext RequestContext         `json:"request_context"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Checksum       string                 `json:"checksum"`
}

// ChecksumFields returns every field of the entry except the checksum, in the
// shape the checksum is computed over. Absent optional values are null so the
// input has the same keys for every entry.
func (e *AuditLogEntry) ChecksumFields() map[string]interface{} {
	return map[string]interface{}{
		"id":        e.ID,
		"timestamp": e.Timestamp.UTC().Format(TimestampLayout),
		"actor": map[string]interface{}{
			"id":           e.Actor.ID,
			"email":        e.Actor.Email,
			"display_name": stringOrNil(e.Actor.DisplayName),
		},
		"action":          string(e.Action),
		"action_category": string(e.ActionCategory),
		"resource": map[string]interface{}{
			"type":  e.Resource.Type,
			"id":    e.Resource.ID,
			"title": stringOrNil(e.Resource.Title),
		},
		"field_path":     stringOrNil(e.FieldPath),
		"value_before":   rawOrNil(e.ValueBefore),
		"value_after":    rawOrNil(e.ValueAfter),
		"change_summary": stringOrNil(e.ChangeSummary),
		"request_context": map[string]interface{}{
			"ip":             stringOrNil(e.RequestContext.IP),
			"user_agent":     stringOrNil(e.RequestContext.UserAgent),
			"session_id":     stringOrNil(e.RequestContext.SessionID),
			"correlation_id": stringOrNil(e.RequestContext.CorrelationID),
		},
		"metadata": metadataOrNil(e.Metadata),
	}
}

func stringOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func rawOrNil(r json.RawMessage) interface{} {
	if len(r) == 0 {
		return nil
	}
	return r
}

func metadataOrNil(m map[string]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}
