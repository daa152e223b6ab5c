// requestctx.go turns the gin request into the actor and request metadata
// recorded on audit log entries.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/db/models"
)

// SessionIDHeader carries the caller's session identifier, when it has one.
const SessionIDHeader = "X-Session-ID"

// GetActor returns the authenticated actor. ok is false on routes that did
// not run AuthMiddleware.
func GetActor(c *gin.Context) (models.Actor, bool) {
	claims, ok := GetClaims(c)
	if !ok {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

// GetRequestContext captures the client IP, user agent, session id and the
// request id (as correlation id). Empty values are left nil.
func GetRequestContext(c *gin.Context) models.RequestContext {
	var rc models.RequestContext
	if ip := c.ClientIP(); ip != "" {
		rc.IP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		rc.UserAgent = &ua
	}
	if sid := c.GetHeader(SessionIDHeader); sid != "" && len(sid) <= maxRequestIDLen {
		rc.SessionID = &sid
	}
	if rid := c.GetString(RequestIDKey); rid != "" {
		rc.CorrelationID = &rid
	}
	return rc
}
