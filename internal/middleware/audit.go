// audit.go provides Gin middleware that records authenticated write operations to the audit
// trail, with optional shipping to external audit destinations.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// AuditMiddleware records HTTP-level audit events through the given recorder.
// Handlers record their own domain events (link.generate, request.finalize and
// so on); this middleware covers the generic "who touched what" trail for write
// operations that have no dedicated event.
func AuditMiddleware(recorder *audit.Recorder, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		// Skip OPTIONS always
		if c.Request.Method == "OPTIONS" {
			return
		}

		// Handlers that recorded a domain event themselves opt out of the
		// generic HTTP entry so the trail carries one event per action.
		if c.GetBool(ContextAuditRecorded) {
			return
		}

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		if isReadOp && !logReadOps {
			return
		}
		if isFailed && !logFailedReqs {
			return
		}

		ip := c.ClientIP()
		event := &models.AuditEvent{
			Action:      "http." + strings.ToLower(c.Request.Method),
			SubjectType: subjectTypeForPath(c.Request.URL.Path),
			Outcome:     models.AuditOutcomeSuccess,
			SourceIP:    &ip,
			Metadata: map[string]interface{}{
				"path":        c.Request.URL.Path,
				"status_code": c.Writer.Status(),
			},
		}
		if isFailed {
			event.Outcome = models.AuditOutcomeDenied
		}

		if userID, ok := c.Get(ContextUserID); ok {
			if uid, ok := userID.(string); ok {
				event.ActorID = &uid
			}
		}
		if role, ok := c.Get(ContextRole); ok {
			if r, ok := role.(string); ok {
				event.ActorRole = &r
			}
		}
		if requestID := c.GetString(RequestIDKey); requestID != "" {
			event.Metadata["request_id"] = requestID
		}

		recorder.Record(c.Request.Context(), event)
	}
}

// subjectTypeForPath maps an API path to the audit subject type it touches.
func subjectTypeForPath(path string) string {
	switch {
	case strings.Contains(path, "/links"):
		return "recommendation_link"
	case strings.Contains(path, "/requests"):
		return "recommendation_request"
	case strings.Contains(path, "/letters"):
		return "recommendation_letter"
	case strings.Contains(path, "/institutions"):
		return "institution_lookup"
	case strings.Contains(path, "/auth"):
		return "account"
	case strings.Contains(path, "/users"):
		return "account"
	default:
		return "http_request"
	}
}
