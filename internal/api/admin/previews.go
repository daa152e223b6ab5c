// previews.go implements the authenticated preview grant endpoints: issuing a
// grant for a document and listing the grants still in force.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/middleware"
	"github.com/docshield/docshield/internal/policy"
	"github.com/docshield/docshield/internal/preview"
)

// DocumentReader resolves a document by its route parameters.
type DocumentReader interface {
	GetByCollectionSlug(ctx context.Context, collection, slug string) (*models.Document, error)
}

// GrantIssuer is the slice of preview.Service used by the handlers.
type GrantIssuer interface {
	CreateGrant(ctx context.Context, doc *models.Document, actor models.Actor, o preview.GrantOverrides, rc models.RequestContext) (*preview.GrantResult, error)
	ListActiveGrants(ctx context.Context, documentID string) ([]*models.PreviewGrant, error)
}

// PreviewHandlers handles preview grant issuance and listing
type PreviewHandlers struct {
	documents DocumentReader
	grants    GrantIssuer
	timeout   time.Duration
}

// NewPreviewHandlers creates a new preview handlers instance
func NewPreviewHandlers(documents DocumentReader, grants GrantIssuer, storeTimeout time.Duration) *PreviewHandlers {
	return &PreviewHandlers{documents: documents, grants: grants, timeout: storeTimeout}
}

// CreatePreviewRequest is the body of POST .../previews. Every field is
// optional; omitted fields take the sensitivity policy default.
type CreatePreviewRequest struct {
	ExpiresAt   *time.Time `json:"expires_at"`
	ExpiresIn   string     `json:"expires_in"`
	MaxViews    *int       `json:"max_views"`
	IPAllowlist []string   `json:"ip_allowlist"`
}

// GrantSummary is how a grant is listed; the token itself is never returned
// after issuance.
type GrantSummary struct {
	TokenFingerprint   string             `json:"token_fingerprint"`
	IssuedBy           string             `json:"issued_by"`
	IssuedAt           time.Time          `json:"issued_at"`
	ExpiresAt          time.Time          `json:"expires_at"`
	MaxViews           *int               `json:"max_views"`
	ViewCount          int                `json:"view_count"`
	RemainingViews     *int               `json:"remaining_views"`
	IPAllowlist        []string           `json:"ip_allowlist"`
	SensitivityAtIssue policy.Sensitivity `json:"sensitivity_at_issue"`
}

func summarizeGrant(g *models.PreviewGrant) GrantSummary {
	s := GrantSummary{
		TokenFingerprint:   crypto.Fingerprint(g.Token),
		IssuedBy:           g.IssuedBy,
		IssuedAt:           g.IssuedAt,
		ExpiresAt:          g.ExpiresAt,
		MaxViews:           g.MaxViews,
		ViewCount:          g.ViewCount,
		IPAllowlist:        []string(g.IPAllowlist),
		SensitivityAtIssue: g.SensitivityAtIssue,
	}
	if s.IPAllowlist == nil {
		s.IPAllowlist = []string{}
	}
	if g.MaxViews != nil {
		remaining := max(*g.MaxViews-g.ViewCount, 0)
		s.RemainingViews = &remaining
	}
	return s
}

func (h *PreviewHandlers) lookup(ctx context.Context, c *gin.Context) (*models.Document, bool) {
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

// @Summary      Create preview grant
// @Description  Issues a time- and view-limited preview token for the document. Requests can only tighten the sensitivity policy. The token is returned once. Requires previews:create scope.
// @Tags         Previews
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        collection  path  string                true   "Collection"
// @Param        slug        path  string                true   "Slug"
// @Param        body        body  CreatePreviewRequest  false  "Overrides"
// @Success      201  {object}  preview.GrantResult
// @Failure      400  {object}  map[string]interface{}  "Invalid override"
// @Failure      404  {object}  map[string]interface{}  "Document not found"
// @Failure      409  {object}  map[string]interface{}  "Embargo active"
// @Failure      412  {object}  map[string]interface{}  "Approval required"
// @Router       /api/v1/documents/{collection}/{slug}/previews [post]
// CreatePreview issues a preview grant
// POST /api/v1/documents/:collection/:slug/previews
func (h *PreviewHandlers) CreatePreview(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req CreatePreviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	overrides := preview.GrantOverrides{
		ExpiresAt:   req.ExpiresAt,
		MaxViews:    req.MaxViews,
		IPAllowlist: req.IPAllowlist,
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in must be a duration such as 2h or 30m"})
			return
		}
		overrides.ExpiresIn = &d
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	doc, ok := h.lookup(ctx, c)
	if !ok {
		return
	}

	result, err := h.grants.CreateGrant(ctx, doc, actor, overrides, middleware.GetRequestContext(c))
	if err != nil {
		writeGrantError(c, doc, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// writeGrantError maps CreateGrant failures to responses.
func writeGrantError(c *gin.Context, doc *models.Document, err error) {
	var embargo *policy.EmbargoActiveError
	var approval *preview.ApprovalRequiredError
	switch {
	case errors.As(err, &embargo):
		body := gin.H{"error": "embargo_active", "message": err.Error()}
		if !embargo.Until.IsZero() {
			body["embargo_until"] = embargo.Until.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &approval):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":          "approval_required",
			"message":        err.Error(),
			"approval_state": approval.State,
		})
	case errors.Is(err, preview.ErrInvalidOverride), errors.Is(err, preview.ErrIPAllowlistRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("failed to create preview grant", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create preview grant"})
	}
}

// @Summary      List active preview grants
// @Description  Returns the unexpired, unexhausted grants of the document. Tokens are shown as fingerprints. Requires previews:read scope.
// @Tags         Previews
// @Security     Bearer
// @Produce      json
// @Param        collection  path  string  true  "Collection"
// @Param        slug        path  string  true  "Slug"
// @Success      200  {object}  map[string]interface{}  "grants: []GrantSummary"
// @Failure      404  {object}  map[string]interface{}  "Document not found"
// @Router       /api/v1/documents/{collection}/{slug}/previews [get]
// ListPreviews lists active grants of a document
// GET /api/v1/documents/:collection/:slug/previews
func (h *PreviewHandlers) ListPreviews(c *gin.Context) {
	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	doc, ok := h.lookup(ctx, c)
	if !ok {
		return
	}

	grants, err := h.grants.ListActiveGrants(ctx, doc.ID)
	if err != nil {
		slog.Error("failed to list preview grants", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list preview grants"})
		return
	}

	summaries := make([]GrantSummary, len(grants))
	for i, g := range grants {
		summaries[i] = summarizeGrant(g)
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": doc.ID,
		"grants":      summaries,
	})
}
