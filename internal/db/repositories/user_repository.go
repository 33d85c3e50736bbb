// Package repositories implements the data access layer (repository pattern) for the platform.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly — all database access goes through this layer, which makes query logic testable in isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// UserRepository handles account and profile database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, email_verified, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email. Emails are stored lowercase, so
// callers normalize before lookup.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, email_verified, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// CreateStudent creates the users row and the student profile in a single
// transaction, so a failed profile insert never leaves an orphaned account.
func (r *UserRepository) CreateStudent(ctx context.Context, user *models.User, profile *models.StudentProfile) error {
	now := time.Now()
	user.ID = uuid.New().String()
	user.Role = models.RoleStudent
	user.CreatedAt = now
	user.UpdatedAt = now
	profile.ID = uuid.New().String()
	profile.UserID = user.ID
	profile.CreatedAt = now
	profile.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.createStudentWithoutTx(ctx, user, profile)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.PasswordHash, user.Role, user.EmailVerified, user.CreatedAt, user.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO student_profiles (id, user_id, full_name, institution_id, institution_name, program, graduation_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, profile.ID, profile.UserID, profile.FullName, profile.InstitutionID, profile.InstitutionName, profile.Program, profile.GraduationYear, profile.CreatedAt, profile.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// createStudentWithoutTx is the fallback when the driver cannot open a
// transaction. It inserts the account then the profile, and compensates by
// deleting the account if the profile insert fails. A failed compensation is
// logged at error level so operators can repair the inconsistency by hand.
func (r *UserRepository) createStudentWithoutTx(ctx context.Context, user *models.User, profile *models.StudentProfile) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.PasswordHash, user.Role, user.EmailVerified, user.CreatedAt, user.UpdatedAt); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO student_profiles (id, user_id, full_name, institution_id, institution_name, program, graduation_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, profile.ID, profile.UserID, profile.FullName, profile.InstitutionID, profile.InstitutionName, profile.Program, profile.GraduationYear, profile.CreatedAt, profile.UpdatedAt); err != nil {
		if _, delErr := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID); delErr != nil {
			slog.Error("CRITICAL: account created but profile insert and compensating delete both failed; manual cleanup required",
				"user_id", user.ID,
				"profile_error", err,
				"delete_error", delErr)
		}
		return fmt.Errorf("failed to create student profile: %w", err)
	}

	return nil
}

// CreateFaculty creates the users row and the faculty profile in a single
// transaction.
func (r *UserRepository) CreateFaculty(ctx context.Context, user *models.User, profile *models.FacultyProfile) error {
	now := time.Now()
	user.ID = uuid.New().String()
	user.Role = models.RoleFaculty
	user.CreatedAt = now
	user.UpdatedAt = now
	profile.ID = uuid.New().String()
	profile.UserID = user.ID
	profile.CreatedAt = now
	profile.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.PasswordHash, user.Role, user.EmailVerified, user.CreatedAt, user.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO faculty_profiles (id, user_id, full_name, institution_id, institution_name, department, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, profile.ID, profile.UserID, profile.FullName, profile.InstitutionID, profile.InstitutionName, profile.Department, profile.Title, profile.CreatedAt, profile.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// GetStudentProfile retrieves the student profile for a user
func (r *UserRepository) GetStudentProfile(ctx context.Context, userID string) (*models.StudentProfile, error) {
	query := `
		SELECT id, user_id, full_name, institution_id, institution_name, program, graduation_year, created_at, updated_at
		FROM student_profiles
		WHERE user_id = $1
	`

	p := &models.StudentProfile{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.InstitutionID,
		&p.InstitutionName,
		&p.Program,
		&p.GraduationYear,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return p, nil
}

// GetFacultyProfile retrieves the faculty profile for a user
func (r *UserRepository) GetFacultyProfile(ctx context.Context, userID string) (*models.FacultyProfile, error) {
	query := `
		SELECT id, user_id, full_name, institution_id, institution_name, department, title, created_at, updated_at
		FROM faculty_profiles
		WHERE user_id = $1
	`

	p := &models.FacultyProfile{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.InstitutionID,
		&p.InstitutionName,
		&p.Department,
		&p.Title,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return p, nil
}

// MarkEmailVerified flips the verification flag on an account
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now())
	return err
}

// CreateEmailVerification stores the hash of a freshly mailed verification
// token. Re-registering the mail replaces any pending token for the account.
func (r *UserRepository) CreateEmailVerification(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO email_verifications (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			token_hash = $1, expires_at = $3, created_at = $4`

	_, err := r.db.ExecContext(ctx, query, tokenHash, userID, expiresAt, time.Now())
	return err
}

// ConsumeEmailVerification redeems a verification token by hash. The DELETE
// with RETURNING makes redemption single-use; an expired or unknown hash
// returns ok=false with no error.
func (r *UserRepository) ConsumeEmailVerification(ctx context.Context, tokenHash string, now time.Time) (string, bool, error) {
	query := `
		DELETE FROM email_verifications
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING user_id`

	var userID string
	err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}
