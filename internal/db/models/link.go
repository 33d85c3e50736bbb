// Package models - link.go defines the RecommendationLink model for
// single-use access links. Only the SHA-256 hex digest of the token is
// persisted; the raw token exists once, in the generation response.
package models

import "time"

// Link lifecycle states
const (
	LinkStateActive   = "ACTIVE"
	LinkStateConsumed = "CONSUMED"
	LinkStateExpired  = "EXPIRED"
	LinkStateRevoked  = "REVOKED"
)

// RecommendationLink represents a single-use link to a finalized letter
type RecommendationLink struct {
	ID          string     `db:"id"`
	RequestID   string     `db:"request_id"`
	CreatedBy   string     `db:"created_by"`
	TokenHash   string     `db:"token_hash"`
	State       string     `db:"state"`
	ViewerEmail *string    `db:"viewer_email"` // Target viewer bound at generation
	ExpiresAt   time.Time  `db:"expires_at"`
	ConsumedAt  *time.Time `db:"consumed_at"`
	ConsumedBy  *string    `db:"consumed_by"` // Free-form recipient identity captured at consumption
	CreatedAt   time.Time  `db:"created_at"`
}

// Expired reports whether the link's deadline has passed relative to now,
// regardless of the persisted state column.
func (l *RecommendationLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
