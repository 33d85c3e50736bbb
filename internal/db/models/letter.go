// Package models - letter.go defines the RecommendationLetter model. The body
// is stored encrypted at rest when an encryption key is configured; ArchiveKey
// points at the immutable copy written to the archive backend on finalization.
package models

import "time"

// RecommendationLetter represents the letter written against a request
type RecommendationLetter struct {
	ID          string     `db:"id"`
	RequestID   string     `db:"request_id"`
	AuthorID    string     `db:"author_id"`
	Body        string     `db:"body"`
	ArchiveKey  *string    `db:"archive_key"`
	FinalizedAt *time.Time `db:"finalized_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}
