// Package models - profile.go defines the role-specific profile rows created
// alongside an account. Exactly one profile exists per user, chosen by role.
package models

import "time"

// StudentProfile holds the student-specific attributes of an account
type StudentProfile struct {
	ID              string
	UserID          string
	FullName        string
	InstitutionID   *string // External institution identifier (e.g. OpenAlex ID)
	InstitutionName *string
	Program         *string
	GraduationYear  *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FacultyProfile holds the faculty-specific attributes of an account
type FacultyProfile struct {
	ID              string
	UserID          string
	FullName        string
	InstitutionID   *string
	InstitutionName *string
	Department      *string
	Title           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
