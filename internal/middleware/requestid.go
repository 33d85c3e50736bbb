// requestid.go assigns every request the identifier that ties its log lines
// and audit events together. Audit events persist the ID (models.AuditEvent
// RequestID), so a single consumption attempt can be traced from the access
// log through to the compliance trail.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request
	// identifier in both directions.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is
	// stored for handlers, the logger, and the audit recorder.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a request identifier. An
// inbound X-Request-ID (from a load balancer or gateway) is trusted and
// reused; otherwise a fresh UUID v4 is assigned. The ID lands in the context
// under RequestIDKey and is echoed in the response header so callers can
// quote it when reporting a problem.
//
// Register it before the logger and audit middleware so both see the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
