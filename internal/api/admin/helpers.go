package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/middleware"
)

// DefaultStoreTimeout bounds store calls made while serving a request when
// the server configuration does not set one.
const DefaultStoreTimeout = 10 * time.Second

// Auditor queues audit entries without blocking the request.
type Auditor interface {
	LogAsync(entry *models.AuditLogEntry) (string, error)
}

// storeContext derives the context handed to repositories and blob backends.
func storeContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// requireActor returns the authenticated actor, aborting with 401 when the
// route was reached without AuthMiddleware.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
	return actor, ok
}

// queueAudit hands entry to the auditor. A rejected entry is a programming
// error in the handler and is logged; the business operation has already
// succeeded.
func queueAudit(auditor Auditor, entry *models.AuditLogEntry) {
	if auditor == nil {
		return
	}
	if _, err := auditor.LogAsync(entry); err != nil {
		slog.Error("failed to queue audit entry", "action", string(entry.Action), "error", err)
	}
}

// snapshotJSON renders a document snapshot for value_before/value_after.
func snapshotJSON(doc *models.Document) json.RawMessage {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc.Snapshot())
	if err != nil {
		return nil
	}
	return raw
}

func documentResource(doc *models.Document) models.Resource {
	title := doc.Title
	return models.Resource{Type: "document", ID: doc.ID, Title: &title}
}

func strPtr(s string) *string { return &s }
