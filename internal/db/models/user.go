// Package models - user.go defines the User model for platform accounts with
// email, bcrypt password hash, and role, along with role predicate helpers.
package models

import "time"

// Account roles. Stored verbatim in users.role and embedded in session claims.
const (
	RoleStudent = "STUDENT"
	RoleFaculty = "FACULTY"
	RoleAdmin   = "ADMIN"
)

// User represents an account in the system
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsStudent returns true if the account holds the student role
func (u *User) IsStudent() bool { return u.Role == RoleStudent }

// IsFaculty returns true if the account holds the faculty role
func (u *User) IsFaculty() bool { return u.Role == RoleFaculty }

// IsAdmin returns true if the account holds the admin role
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
