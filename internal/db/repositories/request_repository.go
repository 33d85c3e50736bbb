// request_repository.go implements RequestRepository, providing database
// queries for recommendation requests and the letters written against them.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// ErrInvalidTransition is returned when a status change is attempted that the
// request lifecycle does not allow (e.g. finalizing a declined request).
var ErrInvalidTransition = errors.New("invalid request status transition")

// RequestRepository handles database operations for recommendation requests
// and letters
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new RequestRepository
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request in REQUESTED state. WaivedAccess is written
// here and never updated afterwards.
func (r *RequestRepository) Create(ctx context.Context, req *models.RecommendationRequest) error {
	req.ID = uuid.New().String()
	req.Status = models.RequestStatusRequested
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt

	query := `
		INSERT INTO recommendation_requests (
			id, student_id, faculty_id, status, waived_access,
			target_program, target_institution, deadline, message,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.StudentID, req.FacultyID, req.Status, req.WaivedAccess,
		req.TargetProgram, req.TargetInstitution, req.Deadline, req.Message,
		req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.RecommendationRequest, error) {
	var req models.RecommendationRequest
	query := `SELECT * FROM recommendation_requests WHERE id = $1`
	err := r.db.GetContext(ctx, &req, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByStudent lists a student's requests, newest first
func (r *RequestRepository) ListByStudent(ctx context.Context, studentID string) ([]*models.RecommendationRequest, error) {
	var reqs []*models.RecommendationRequest
	query := `SELECT * FROM recommendation_requests WHERE student_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &reqs, query, studentID)
	return reqs, err
}

// ListByFaculty lists the requests assigned to a faculty member, newest first
func (r *RequestRepository) ListByFaculty(ctx context.Context, facultyID string) ([]*models.RecommendationRequest, error) {
	var reqs []*models.RecommendationRequest
	query := `SELECT * FROM recommendation_requests WHERE faculty_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &reqs, query, facultyID)
	return reqs, err
}

// Accept moves a REQUESTED request into DRAFTING and pins the accepting
// faculty member. The status guard in the WHERE clause makes the transition
// atomic; zero rows affected means the request was not in an acceptable state.
func (r *RequestRepository) Accept(ctx context.Context, requestID, facultyID string) error {
	query := `
		UPDATE recommendation_requests
		SET status = $3, faculty_id = $4, updated_at = $5
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query,
		requestID, models.RequestStatusRequested,
		models.RequestStatusDrafting, facultyID, time.Now(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Decline moves a REQUESTED or DRAFTING request into DECLINED
func (r *RequestRepository) Decline(ctx context.Context, requestID, facultyID string) error {
	query := `
		UPDATE recommendation_requests
		SET status = $2, updated_at = $3
		WHERE id = $1 AND faculty_id = $4 AND status IN ($5, $6)`

	res, err := r.db.ExecContext(ctx, query,
		requestID, models.RequestStatusDeclined, time.Now(), facultyID,
		models.RequestStatusRequested, models.RequestStatusDrafting,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FinalizeWithLetter moves a DRAFTING request into FINALIZED and writes the
// finalized letter row in the same transaction, so a FINALIZED request can
// never exist without its letter. Only the assigned faculty member can
// finalize, and only from DRAFTING.
func (r *RequestRepository) FinalizeWithLetter(ctx context.Context, requestID, facultyID string, letter *models.RecommendationLetter) error {
	now := time.Now()
	if letter.ID == "" {
		letter.ID = uuid.New().String()
		letter.CreatedAt = now
	}
	letter.UpdatedAt = now
	if letter.FinalizedAt == nil {
		letter.FinalizedAt = &now
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE recommendation_requests
		SET status = $2, updated_at = $3
		WHERE id = $1 AND faculty_id = $4 AND status = $5`,
		requestID, models.RequestStatusFinalized, now, facultyID,
		models.RequestStatusDrafting,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recommendation_letters (id, request_id, author_id, body, archive_key, finalized_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO UPDATE SET
			body = $4, archive_key = $5, finalized_at = $6, updated_at = $8`,
		letter.ID, letter.RequestID, letter.AuthorID, letter.Body,
		letter.ArchiveKey, letter.FinalizedAt, letter.CreatedAt, letter.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// UpsertLetter creates or replaces the letter draft attached to a request.
// One letter per request, enforced by the unique request_id constraint.
func (r *RequestRepository) UpsertLetter(ctx context.Context, letter *models.RecommendationLetter) error {
	now := time.Now()
	if letter.ID == "" {
		letter.ID = uuid.New().String()
		letter.CreatedAt = now
	}
	letter.UpdatedAt = now

	query := `
		INSERT INTO recommendation_letters (id, request_id, author_id, body, archive_key, finalized_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO UPDATE SET
			body = $4, archive_key = $5, finalized_at = $6, updated_at = $8`

	_, err := r.db.ExecContext(ctx, query,
		letter.ID, letter.RequestID, letter.AuthorID, letter.Body,
		letter.ArchiveKey, letter.FinalizedAt, letter.CreatedAt, letter.UpdatedAt,
	)
	return err
}

// GetLetterByRequest retrieves the letter attached to a request
func (r *RequestRepository) GetLetterByRequest(ctx context.Context, requestID string) (*models.RecommendationLetter, error) {
	var letter models.RecommendationLetter
	query := `SELECT * FROM recommendation_letters WHERE request_id = $1`
	err := r.db.GetContext(ctx, &letter, query, requestID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// GetLetterForStudent retrieves the letter attached to a request on behalf of
// the owning student. The access waiver is enforced in the query itself: a
// waived request matches no rows, so callers above this layer cannot leak a
// waived letter by mistake.
func (r *RequestRepository) GetLetterForStudent(ctx context.Context, requestID, studentID string) (*models.RecommendationLetter, error) {
	var letter models.RecommendationLetter
	query := `
		SELECT l.* FROM recommendation_letters l
		JOIN recommendation_requests req ON req.id = l.request_id
		WHERE l.request_id = $1 AND req.student_id = $2 AND req.waived_access = FALSE`

	err := r.db.GetContext(ctx, &letter, query, requestID, studentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// MarkLetterFinalized stamps the letter's finalization time and archive key
func (r *RequestRepository) MarkLetterFinalized(ctx context.Context, requestID string, archiveKey *string, finalizedAt time.Time) error {
	query := `
		UPDATE recommendation_letters
		SET finalized_at = $2, archive_key = $3, updated_at = $4
		WHERE request_id = $1`

	_, err := r.db.ExecContext(ctx, query, requestID, finalizedAt, archiveKey, time.Now())
	return err
}
