// Package models - request.go defines the RecommendationRequest model linking
// a student to the faculty member they asked for a letter.
package models

import "time"

// Request lifecycle states
const (
	RequestStatusRequested = "REQUESTED"
	RequestStatusDrafting  = "DRAFTING"
	RequestStatusFinalized = "FINALIZED"
	RequestStatusDeclined  = "DECLINED"
)

// RecommendationRequest represents a student's ask for a letter. WaivedAccess
// is fixed at creation: a waived request never exposes the letter body to the
// student, at any layer.
type RecommendationRequest struct {
	ID                string     `db:"id"`
	StudentID         string     `db:"student_id"`
	FacultyID         *string    `db:"faculty_id"` // Nullable until a faculty member accepts
	Status            string     `db:"status"`
	WaivedAccess      bool       `db:"waived_access"`
	TargetProgram     *string    `db:"target_program"`
	TargetInstitution *string    `db:"target_institution"`
	Deadline          *time.Time `db:"deadline"`
	Message           *string    `db:"message"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// IsFinalized returns true once the letter attached to this request is
// complete and eligible for link generation.
func (r *RecommendationRequest) IsFinalized() bool {
	return r.Status == RequestStatusFinalized
}
