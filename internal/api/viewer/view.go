// Package viewer serves preview bodies to holders of a preview token. It is
// the only unauthenticated route that returns document content.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/middleware"
	"github.com/docshield/docshield/internal/preview"
)

// RetryAfterSeconds is sent with 503 responses.
const RetryAfterSeconds = 5

// Validator is the slice of preview.Service used to serve a view.
type Validator interface {
	ValidateGrant(ctx context.Context, token, clientIP string, rc models.RequestContext) (*preview.ValidationResult, error)
}

// Handler serves GET /preview/:token
type Handler struct {
	validator Validator
	timeout   time.Duration
}

// NewHandler creates a preview view handler
func NewHandler(validator Validator, storeTimeout time.Duration) *Handler {
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	return &Handler{validator: validator, timeout: storeTimeout}
}

// statusFor maps a rejection reason to its response code.
func statusFor(reason preview.Reason) int {
	switch reason {
	case preview.ReasonInvalidToken:
		return http.StatusNotFound
	case preview.ReasonExpired, preview.ReasonMaxViewsExceeded:
		return http.StatusGone
	case preview.ReasonIPNotAllowed:
		return http.StatusForbidden
	}
	return http.StatusNotFound
}

// @Summary      View preview
// @Description  Validates a preview token, consumes one view and returns the document's rendered preview. Responses are never cacheable.
// @Tags         Previews
// @Produce      html
// @Param        token  path  string  true  "Preview token"
// @Success      200  {string}  string                  "Preview body"
// @Failure      403  {object}  map[string]interface{}  "ip_not_allowed"
// @Failure      404  {object}  map[string]interface{}  "invalid_token"
// @Failure      410  {object}  map[string]interface{}  "expired or max_views_exceeded"
// @Failure      503  {object}  map[string]interface{}  "Temporarily unavailable"
// @Router       /preview/{token} [get]
// View validates a token and serves the preview body
// GET /preview/:token
func (h *Handler) View(c *gin.Context) {
	token := c.Param("token")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := h.validator.ValidateGrant(ctx, token, c.ClientIP(), middleware.GetRequestContext(c))
	if err != nil {
		fingerprint := crypto.Fingerprint(token)
		switch {
		case errors.Is(err, preview.ErrTransient):
			slog.Warn("preview validation unavailable", "token_fingerprint", fingerprint, "error", err)
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"})
		case errors.Is(err, preview.ErrContentUnavailable):
			slog.Warn("preview has no content", "token_fingerprint", fingerprint, "error", err)
			c.JSON(http.StatusNotFound, gin.H{"error": "content_unavailable"})
		case errors.Is(err, content.ErrEncryptionUnavailable):
			slog.Error("preview content cannot be decrypted", "token_fingerprint", fingerprint, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "content_unavailable"})
		default:
			slog.Error("preview validation failed", "token_fingerprint", fingerprint, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	if !result.Valid {
		c.JSON(statusFor(result.Reason), gin.H{"error": string(result.Reason)})
		return
	}

	c.Header("X-Preview-Sensitivity", string(result.Sensitivity))
	c.Header("X-Preview-View-Count", strconv.Itoa(result.ViewCount))
	if g := result.Grant; g != nil {
		c.Header("X-Preview-Expires-At", g.ExpiresAt.UTC().Format(time.RFC3339))
		if g.MaxViews != nil {
			c.Header("X-Preview-Views-Remaining", strconv.Itoa(max(*g.MaxViews-result.ViewCount, 0)))
		}
	}
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
