// documents.go implements the document registry handlers: metadata upsert,
// preview body upload, and the approve/reject workflow.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/db/repositories"
	"github.com/docshield/docshield/internal/middleware"
	"github.com/docshield/docshield/internal/policy"
)

// DocumentStore is the document persistence the handlers need.
type DocumentStore interface {
	GetByCollectionSlug(ctx context.Context, collection, slug string) (*models.Document, error)
	Create(ctx context.Context, d *models.Document) error
	UpdateMetadata(ctx context.Context, d *models.Document) error
	SetContent(ctx context.Context, id, key, contentType string, encrypted bool) error
}

// ContentStore keeps rendered preview bodies.
type ContentStore interface {
	Save(ctx context.Context, doc *models.Document, body []byte, contentType string) (*content.Stored, error)
	Reseal(ctx context.Context, doc *models.Document) (*content.Stored, error)
	Delete(ctx context.Context, key string) error
}

// PolicySource resolves the sensitivity policy currently in force.
type PolicySource interface {
	PolicyFor(s policy.Sensitivity) policy.Policy
}

// DocumentHandlers handles the document registry endpoints
type DocumentHandlers struct {
	documents DocumentStore
	content   ContentStore
	policies  PolicySource
	auditor   Auditor
	timeout   time.Duration
}

// NewDocumentHandlers creates a new document handlers instance
func NewDocumentHandlers(documents DocumentStore, contentStore ContentStore, policies PolicySource, auditor Auditor, storeTimeout time.Duration) *DocumentHandlers {
	return &DocumentHandlers{
		documents: documents,
		content:   contentStore,
		policies:  policies,
		auditor:   auditor,
		timeout:   storeTimeout,
	}
}

// approvalLapses reports whether doc holds an approval that no longer covers
// it: approval is tied to the body and sensitivity it was given for.
func (h *DocumentHandlers) approvalLapses(doc *models.Document) bool {
	return doc.ApprovalState == models.ApprovalStateApproved &&
		h.policies.PolicyFor(doc.Sensitivity).RequiresApproval
}

func withdrawApproval(doc *models.Document) {
	doc.ApprovalState = models.ApprovalStatePending
	doc.ApprovedBy = nil
	doc.ApprovedAt = nil
}

// UpsertDocumentRequest is the body of PUT /api/v1/documents/:collection/:slug
type UpsertDocumentRequest struct {
	Title        string     `json:"title" binding:"required"`
	Sensitivity  string     `json:"sensitivity" binding:"required"`
	EmbargoUntil *time.Time `json:"embargo_until"`
}

// WorkflowRequest is the optional body of the approve and reject endpoints
type WorkflowRequest struct {
	Comment string `json:"comment"`
}

// lookup loads the document named by the route, writing 404/500 itself.
func (h *DocumentHandlers) lookup(ctx context.Context, c *gin.Context) (*models.Document, bool) {
	doc, err := h.documents.GetByCollectionSlug(ctx, c.Param("collection"), c.Param("slug"))
	if err != nil {
		slog.Error("failed to load document", "collection", c.Param("collection"), "slug", c.Param("slug"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return nil, false
	}
	return doc, true
}

// @Summary      Register or update a document
// @Description  Creates the document at collection/slug or updates its title, sensitivity and embargo. Requires documents:write scope.
// @Tags         Documents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        collection  path  string                 true  "Collection"
// @Param        slug        path  string                 true  "Slug"
// @Param        body        body  UpsertDocumentRequest  true  "Document metadata"
// @Success      200  {object}  models.Document  "Updated"
// @Success      201  {object}  models.Document  "Created"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/documents/{collection}/{slug} [put]
// UpsertDocument registers or updates document metadata
// PUT /api/v1/documents/:collection/:slug
func (h *DocumentHandlers) UpsertDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req UpsertDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	sensitivity, err := policy.ParseSensitivity(req.Sensitivity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var embargo *time.Time
	if req.EmbargoUntil != nil {
		t := req.EmbargoUntil.UTC()
		embargo = &t
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	collection, slug := c.Param("collection"), c.Param("slug")
	existing, err := h.documents.GetByCollectionSlug(ctx, collection, slug)
	if err != nil {
		slog.Error("failed to load document", "collection", collection, "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}

	if existing == nil {
		doc := &models.Document{
			Collection:    collection,
			Slug:          slug,
			Title:         req.Title,
			Sensitivity:   sensitivity,
			EmbargoUntil:  embargo,
			ApprovalState: models.ApprovalStateDraft,
		}
		if err := h.documents.Create(ctx, doc); err != nil {
			slog.Error("failed to create document", "collection", collection, "slug", slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
			return
		}
		queueAudit(h.auditor, &models.AuditLogEntry{
			Actor:          actor,
			Action:         models.ActionCreate,
			Resource:       documentResource(doc),
			ValueAfter:     snapshotJSON(doc),
			ChangeSummary:  strPtr(fmt.Sprintf("registered %s/%s as %s", collection, slug, sensitivity)),
			RequestContext: middleware.GetRequestContext(c),
		})
		c.JSON(http.StatusCreated, doc)
		return
	}

	before := *existing
	updated := *existing
	updated.Title = req.Title
	updated.Sensitivity = sensitivity
	updated.EmbargoUntil = embargo

	if reflect.DeepEqual(before.Snapshot(), updated.Snapshot()) {
		c.JSON(http.StatusOK, existing)
		return
	}
	if sensitivity != before.Sensitivity && h.approvalLapses(&updated) {
		withdrawApproval(&updated)
	}

	if err := h.documents.UpdateMetadata(ctx, &updated); err != nil {
		slog.Error("failed to update document", "document_id", existing.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}

	if sensitivity != before.Sensitivity {
		h.resealContent(ctx, &updated)
	}

	queueAudit(h.auditor, &models.AuditLogEntry{
		Actor:          actor,
		Action:         models.ActionUpdate,
		Resource:       documentResource(&updated),
		ValueBefore:    snapshotJSON(&before),
		ValueAfter:     snapshotJSON(&updated),
		ChangeSummary:  strPtr(changeSummary(&before, &updated)),
		RequestContext: middleware.GetRequestContext(c),
	})
	c.JSON(http.StatusOK, updated)
}

// resealContent re-encrypts a stored body after an escalation made the
// policy require encryption. Failures are logged; the plaintext body stays
// readable until the next upload.
func (h *DocumentHandlers) resealContent(ctx context.Context, doc *models.Document) {
	stored, err := h.content.Reseal(ctx, doc)
	if err != nil {
		slog.Error("failed to reseal preview body", "document_id", doc.ID, "error", err)
		return
	}
	if stored == nil {
		return
	}
	oldKey := ""
	if doc.ContentKey != nil {
		oldKey = *doc.ContentKey
	}
	if err := h.documents.SetContent(ctx, doc.ID, stored.Key, stored.ContentType, stored.Encrypted); err != nil {
		slog.Error("failed to record resealed preview body", "document_id", doc.ID, "error", err)
		_ = h.content.Delete(ctx, stored.Key)
		return
	}
	doc.ContentKey = &stored.Key
	doc.ContentEncrypted = stored.Encrypted
	if err := h.content.Delete(ctx, oldKey); err != nil {
		slog.Warn("failed to delete plaintext preview body", "document_id", doc.ID, "key", oldKey, "error", err)
	}
	slog.Info("preview body resealed after sensitivity change", "document_id", doc.ID, "sensitivity", string(doc.Sensitivity))
}

// changeSummary lists the metadata fields that differ.
func changeSummary(before, after *models.Document) string {
	var changed []string
	if before.Title != after.Title {
		changed = append(changed, "title")
	}
	if before.Sensitivity != after.Sensitivity {
		changed = append(changed, fmt.Sprintf("sensitivity %s -> %s", before.Sensitivity, after.Sensitivity))
	}
	if !sameTime(before.EmbargoUntil, after.EmbargoUntil) {
		changed = append(changed, "embargo_until")
	}
	if before.ApprovalState != after.ApprovalState {
		changed = append(changed, fmt.Sprintf("approval_state %s -> %s", before.ApprovalState, after.ApprovalState))
	}
	return "updated " + strings.Join(changed, ", ")
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// @Summary      Upload preview body
// @Description  Replaces the rendered preview body of a document. The raw request body is stored; it is encrypted when the document's policy requires it. Requires documents:write scope.
// @Tags         Documents
// @Security     Bearer
// @Accept       */*
// @Produce      json
// @Param        collection  path  string  true  "Collection"
// @Param        slug        path  string  true  "Slug"
// @Success      200  {object}  map[string]interface{}  "size, content_type, encrypted, checksum"
// @Failure      404  {object}  map[string]interface{}  "Document not found"
// @Failure      413  {object}  map[string]interface{}  "Body too large"
// @Router       /api/v1/documents/{collection}/{slug}/content [put]
// UploadContent stores the rendered preview body
// PUT /api/v1/documents/:collection/:slug/content
func (h *DocumentHandlers) UploadContent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, content.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": content.ErrBodyTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preview body is empty"})
		return
	}
	contentType := c.ContentType()
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "text/html; charset=utf-8"
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	doc, ok := h.lookup(ctx, c)
	if !ok {
		return
	}

	// Withdraw approval before the new body becomes visible, so a failure
	// leaves the document pending rather than approved with unreviewed content.
	if h.approvalLapses(doc) {
		before := *doc
		withdrawApproval(doc)
		if err := h.documents.UpdateMetadata(ctx, doc); err != nil {
			slog.Error("failed to withdraw approval", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store preview body"})
			return
		}
		queueAudit(h.auditor, &models.AuditLogEntry{
			Actor:          actor,
			Action:         models.ActionUpdateField,
			Resource:       documentResource(doc),
			FieldPath:      strPtr("approval_state"),
			ValueBefore:    snapshotJSON(&before),
			ValueAfter:     snapshotJSON(doc),
			ChangeSummary:  strPtr(fmt.Sprintf("approval state %s -> %s: preview body replaced", before.ApprovalState, doc.ApprovalState)),
			RequestContext: middleware.GetRequestContext(c),
		})
	}

	stored, err := h.content.Save(ctx, doc, body, contentType)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrBodyTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, content.ErrEncryptionUnavailable):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			slog.Error("failed to store preview body", "document_id", doc.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store preview body"})
		}
		return
	}

	if err := h.documents.SetContent(ctx, doc.ID, stored.Key, stored.ContentType, stored.Encrypted); err != nil {
		slog.Error("failed to record preview body", "document_id", doc.ID, "error", err)
		_ = h.content.Delete(ctx, stored.Key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store preview body"})
		return
	}
	if doc.ContentKey != nil {
		if err := h.content.Delete(ctx, *doc.ContentKey); err != nil {
			slog.Warn("failed to delete previous preview body", "document_id", doc.ID, "error", err)
		}
	}

	queueAudit(h.auditor, &models.AuditLogEntry{
		Actor:     actor,
		Action:    models.ActionUpdateField,
		Resource:  documentResource(doc),
		FieldPath: strPtr("content"),
		Metadata: map[string]interface{}{
			"size":         stored.Size,
			"content_type": stored.ContentType,
			"encrypted":    stored.Encrypted,
			"checksum":     stored.Checksum,
		},
		RequestContext: middleware.GetRequestContext(c),
	})

	c.JSON(http.StatusOK, gin.H{
		"size":         stored.Size,
		"content_type": stored.ContentType,
		"encrypted":    stored.Encrypted,
		"checksum":     stored.Checksum,
	})
}

// @Summary      Approve a document
// @Description  Marks the document approved, allowing previews of sensitivities that require approval. Requires documents:approve scope.
// @Tags         Documents
// @Security     Bearer
// @Produce      json
// @Param        collection  path  string           true   "Collection"
// @Param        slug        path  string           true   "Slug"
// @Param        body        body  WorkflowRequest  false  "Optional comment"
// @Success      200  {object}  models.Document
// @Failure      409  {object}  map[string]interface{}  "Already approved"
// @Router       /api/v1/documents/{collection}/{slug}/approve [post]
// ApproveDocument moves a document to approved
// POST /api/v1/documents/:collection/:slug/approve
func (h *DocumentHandlers) ApproveDocument(c *gin.Context) {
	h.transition(c, models.ApprovalStateApproved, models.ActionApprove)
}

// @Summary      Reject a document
// @Description  Marks the document rejected and withdraws any earlier approval. Requires documents:approve scope.
// @Tags         Documents
// @Security     Bearer
// @Produce      json
// @Param        collection  path  string           true   "Collection"
// @Param        slug        path  string           true   "Slug"
// @Param        body        body  WorkflowRequest  false  "Optional comment"
// @Success      200  {object}  models.Document
// @Failure      409  {object}  map[string]interface{}  "Already rejected"
// @Router       /api/v1/documents/{collection}/{slug}/reject [post]
// RejectDocument moves a document to rejected
// POST /api/v1/documents/:collection/:slug/reject
func (h *DocumentHandlers) RejectDocument(c *gin.Context) {
	h.transition(c, models.ApprovalStateRejected, models.ActionReject)
}

func (h *DocumentHandlers) transition(c *gin.Context, to models.ApprovalState, action models.AuditAction) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req WorkflowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	doc, ok := h.lookup(ctx, c)
	if !ok {
		return
	}
	if doc.ApprovalState == to {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("document is already %s", to)})
		return
	}

	before := *doc
	doc.ApprovalState = to
	if to == models.ApprovalStateApproved {
		now := time.Now().UTC()
		doc.ApprovedBy = &actor.ID
		doc.ApprovedAt = &now
	} else {
		doc.ApprovedBy = nil
		doc.ApprovedAt = nil
	}

	if err := h.documents.UpdateMetadata(ctx, doc); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		slog.Error("failed to update approval state", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}

	entry := &models.AuditLogEntry{
		Actor:          actor,
		Action:         action,
		Resource:       documentResource(doc),
		FieldPath:      strPtr("approval_state"),
		ValueBefore:    snapshotJSON(&before),
		ValueAfter:     snapshotJSON(doc),
		ChangeSummary:  strPtr(fmt.Sprintf("approval state %s -> %s", before.ApprovalState, to)),
		RequestContext: middleware.GetRequestContext(c),
	}
	if comment := strings.TrimSpace(req.Comment); comment != "" {
		entry.Metadata = map[string]interface{}{"comment": comment}
	}
	queueAudit(h.auditor, entry)

	c.JSON(http.StatusOK, doc)
}
