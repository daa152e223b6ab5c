// Package models - document.go defines the document metadata the preview and
// audit services consume: identity, sensitivity, embargo and approval state,
// and where the rendered preview body is stored.
package models

import (
	"time"

	"github.com/docshield/docshield/internal/policy"
)

// ApprovalState is the workflow state of a document.
type ApprovalState string

const (
	ApprovalStateDraft    ApprovalState = "draft"
	ApprovalStatePending  ApprovalState = "pending"
	ApprovalStateApproved ApprovalState = "approved"
	ApprovalStateRejected ApprovalState = "rejected"
)

// Valid reports whether s is a known approval state.
func (s ApprovalState) Valid() bool {
	switch s {
	case ApprovalStateDraft, ApprovalStatePending, ApprovalStateApproved, ApprovalStateRejected:
		return true
	}
	return false
}

// Document is a unit of content addressed by collection and slug.
type Document struct {
	ID            string             `json:"id" db:"id"`
	Collection    string             `json:"collection" db:"collection"`
	Slug          string             `json:"slug" db:"slug"`
	Title         string             `json:"title" db:"title"`
	Sensitivity   policy.Sensitivity `json:"sensitivity" db:"sensitivity"`
	EmbargoUntil  *time.Time         `json:"embargo_until,omitempty" db:"embargo_until"`
	ApprovalState ApprovalState      `json:"approval_state" db:"approval_state"`
	ApprovedBy    *string            `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt    *time.Time         `json:"approved_at,omitempty" db:"approved_at"`
	// ContentKey is the blob key of the latest rendered preview body; nil until one is uploaded.
	ContentKey       *string   `json:"-" db:"content_key"`
	ContentType      string    `json:"content_type" db:"content_type"`
	ContentEncrypted bool      `json:"content_encrypted" db:"content_encrypted"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasContent reports whether a preview body has been uploaded.
func (d *Document) HasContent() bool {
	return d.ContentKey != nil && *d.ContentKey != ""
}

// Snapshot is the auditable view of the document's metadata, used for
// before/after values.
func (d *Document) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"collection":     d.Collection,
		"slug":           d.Slug,
		"title":          d.Title,
		"sensitivity":    string(d.Sensitivity),
		"approval_state": string(d.ApprovalState),
		"embargo_until":  nil,
	}
	if d.EmbargoUntil != nil {
		snap["embargo_until"] = d.EmbargoUntil.UTC().Format(time.RFC3339)
	}
	return snap
}
