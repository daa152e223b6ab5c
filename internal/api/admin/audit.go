// audit.go implements the audit log query endpoints and on-demand integrity
// verification.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/audit"
	"github.com/docshield/docshield/internal/db/models"
)

// AuditQuerier is the read and verify side of audit.Service.
type AuditQuerier interface {
	GetResourceHistory(ctx context.Context, resourceType, resourceID string, opts audit.HistoryOptions) ([]*models.AuditLogEntry, error)
	Search(ctx context.Context, filters audit.SearchFilters, page audit.Page) (*audit.SearchResult, error)
	VerifyIntegrity(ctx context.Context, since, until *time.Time, requestedBy models.Actor) (*audit.IntegrityReport, error)
}

// AuditHandlers handles audit log endpoints
type AuditHandlers struct {
	audit   AuditQuerier
	timeout time.Duration
}

// NewAuditHandlers creates a new audit handlers instance
func NewAuditHandlers(querier AuditQuerier, storeTimeout time.Duration) *AuditHandlers {
	return &AuditHandlers{audit: querier, timeout: storeTimeout}
}

// VerifyRequest is the optional body of POST /api/v1/audit/verify
type VerifyRequest struct {
	Since *time.Time `json:"since"`
	Until *time.Time `json:"until"`
}

// multiValue collects a query parameter given repeatedly or comma separated.
func multiValue(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parseActions(values []string) []models.AuditAction {
	actions := make([]models.AuditAction, len(values))
	for i, v := range values {
		actions[i] = models.AuditAction(v)
	}
	return actions
}

func parseTimeParam(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	t = t.UTC()
	return &t, nil
}

func parseIntParam(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// writeQueryError maps audit query failures; filter errors are the caller's.
func writeQueryError(c *gin.Context, err error) {
	var invalidAction *audit.InvalidActionError
	if errors.As(err, &invalidAction) || errors.Is(err, audit.ErrInvalidFilter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slog.Error("audit query failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
}

// @Summary      Resource history
// @Description  Returns audit entries for one resource, newest first. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        type    path   string  true   "Resource type"
// @Param        id      path   string  true   "Resource ID"
// @Param        action  query  string  false  "Action filter (repeatable or comma separated)"
// @Param        limit   query  int     false  "Page size (default 50, max 500)"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}  "entries"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit/resources/{type}/{id} [get]
// GetResourceHistory returns the audit trail of a resource
// GET /api/v1/audit/resources/:type/:id
func (h *AuditHandlers) GetResourceHistory(c *gin.Context) {
	limit, err := parseIntParam(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := parseIntParam(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	entries, err := h.audit.GetResourceHistory(ctx, c.Param("type"), c.Param("id"), audit.HistoryOptions{
		Limit:   limit,
		Offset:  offset,
		Actions: parseActions(multiValue(c, "action")),
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// @Summary      Search audit log
// @Description  Searches the audit log, newest first. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        action         query  string  false  "Action (repeatable)"
// @Param        category       query  string  false  "Action category (repeatable)"
// @Param        actor_id       query  string  false  "Actor ID (repeatable)"
// @Param        actor_email    query  string  false  "Actor email (repeatable)"
// @Param        resource_type  query  string  false  "Resource type"
// @Param        resource_id    query  string  false  "Resource ID"
// @Param        since          query  string  false  "RFC3339 lower bound (inclusive)"
// @Param        until          query  string  false  "RFC3339 upper bound (inclusive)"
// @Param        q              query  string  false  "Free text over summary, resource title and actor"
// @Param        limit          query  int     false  "Page size (default 50, max 500)"
// @Param        offset         query  int     false  "Offset"
// @Success      200  {object}  audit.SearchResult
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit/search [get]
// SearchAuditLog searches audit entries
// GET /api/v1/audit/search
func (h *AuditHandlers) SearchAuditLog(c *gin.Context) {
	filters := audit.SearchFilters{
		Actions:     parseActions(multiValue(c, "action")),
		ActorIDs:    multiValue(c, "actor_id"),
		ActorEmails: multiValue(c, "actor_email"),
	}
	for _, v := range multiValue(c, "category") {
		filters.Categories = append(filters.Categories, models.ActionCategory(v))
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("resource_id"); v != "" {
		filters.ResourceID = &v
	}
	if v := strings.TrimSpace(c.Query("q")); v != "" {
		filters.Query = &v
	}

	var err error
	if filters.Since, err = parseTimeParam(c, "since"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filters.Until, err = parseTimeParam(c, "until"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var page audit.Page
	if page.Limit, err = parseIntParam(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if page.Offset, err = parseIntParam(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := storeContext(c, h.timeout)
	defer cancel()

	result, err := h.audit.Search(ctx, filters, page)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	if result.Entries == nil {
		result.Entries = []*models.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, result)
}

// @Summary      Verify audit log integrity
// @Description  Recomputes the checksum of every entry in the range and reports mismatches. Appends one integrity_verify summary entry. Requires audit:verify scope.
// @Tags         Audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  VerifyRequest  false  "Optional range"
// @Success      200  {object}  audit.IntegrityReport
// @Failure      400  {object}  map[string]interface{}  "Invalid range"
// @Router       /api/v1/audit/verify [post]
// VerifyIntegrity runs an integrity check
// POST /api/v1/audit/verify
func (h *AuditHandlers) VerifyIntegrity(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req VerifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	if req.Since != nil && req.Until != nil && req.Until.Before(*req.Since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "until is before since"})
		return
	}

	// Bounded by the request rather than the store timeout.
	report, err := h.audit.VerifyIntegrity(c.Request.Context(), req.Since, req.Until, actor)
	if err != nil {
		slog.Error("integrity verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity verification failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}
