// Package models - audit_log.go defines the AuditEvent model for the
// append-only consent trail, capturing actor, action, affected subject,
// outcome, client IP, and arbitrary metadata.
package models

import "time"

// Audit outcomes
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeDenied  = "denied"
	AuditOutcomeError   = "error"
)

// AuditEvent represents one entry in the append-only audit trail. Rows are
// only ever inserted; there is no update or delete path.
type AuditEvent struct {
	ID          string
	OccurredAt  time.Time
	ActorID     *string // Nullable for anonymous actions (e.g. link consumption)
	ActorRole   *string
	Action      string  // "auth.login", "link.generate", "link.consume", ...
	SubjectType string  // "user", "request", "letter", "link"
	SubjectID   *string
	Outcome     string
	SourceIP    *string
	RequestID   *string                // Correlation ID from the HTTP layer
	Metadata    map[string]interface{} // JSONB: additional context
}
