// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Session → RBAC → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB
// work. Session auth populates the user identity and role; RBAC reads from
// that context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/readmystudent/readmystudent/internal/auth"
	"github.com/readmystudent/readmystudent/internal/config"
)

// Context keys set by SessionMiddleware
const (
	ContextSession = "session"
	ContextUserID  = "user_id"
	ContextRole    = "role"

	// ContextAuditRecorded is set by handlers that recorded their own domain
	// audit event, so AuditMiddleware skips the generic HTTP entry.
	ContextAuditRecorded = "audit_recorded"
)

// SessionMiddleware authenticates requests from the session cookie, falling
// back to an Authorization bearer header for non-browser clients. Verification
// is fail-closed: any token problem yields a generic 401 with no detail about
// what went wrong.
func SessionMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, cfg.Auth.CookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		session := auth.Verify(token)
		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		c.Set(ContextSession, session)
		c.Set(ContextUserID, session.UserID)
		c.Set(ContextRole, session.Role)

		c.Next()
	}
}

// OptionalSessionMiddleware populates the session context when a valid
// credential is present but never rejects the request. Used on endpoints that
// serve both anonymous and signed-in callers, like link consumption.
func OptionalSessionMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, cfg.Auth.CookieName)
		if token != "" {
			if session := auth.Verify(token); session != nil {
				c.Set(ContextSession, session)
				c.Set(ContextUserID, session.UserID)
				c.Set(ContextRole, session.Role)
			}
		}
		c.Next()
	}
}

// extractToken pulls the session token from the cookie or, failing that, a
// bearer Authorization header. The cookie is checked first because it is the
// primary browser credential.
func extractToken(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}

// SessionFromContext returns the verified session, if any
func SessionFromContext(c *gin.Context) *auth.Session {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil
	}
	session, ok := v.(*auth.Session)
	if !ok {
		return nil
	}
	return session
}
