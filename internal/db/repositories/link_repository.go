// link_repository.go implements LinkRepository for single-use recommendation
// links. Consumption is a single conditional UPDATE so that concurrent
// consumers of the same token cannot both succeed.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// LinkRepository handles database operations for recommendation links
type LinkRepository struct {
	db *sqlx.DB
}

// NewLinkRepository creates a new LinkRepository
func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// Create inserts a new ACTIVE link. The caller supplies the token hash; raw
// tokens never reach this layer.
func (r *LinkRepository) Create(ctx context.Context, link *models.RecommendationLink) error {
	link.ID = uuid.New().String()
	link.State = models.LinkStateActive
	link.CreatedAt = time.Now()

	query := `
		INSERT INTO recommendation_links (
			id, request_id, created_by, token_hash, state, viewer_email, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.RequestID, link.CreatedBy, link.TokenHash,
		link.State, link.ViewerEmail, link.ExpiresAt, link.CreatedAt,
	)
	return err
}

// GetByTokenHash retrieves a link by its token hash
func (r *LinkRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RecommendationLink, error) {
	var link models.RecommendationLink
	query := `SELECT * FROM recommendation_links WHERE token_hash = $1`
	err := r.db.GetContext(ctx, &link, query, tokenHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// Consume atomically flips an ACTIVE, unexpired link to CONSUMED and records
// who redeemed it. It returns true only for the one caller that won the
// update; every other caller sees false and must inspect the row to report
// why (already consumed, expired, or unknown).
func (r *LinkRepository) Consume(ctx context.Context, tokenHash string, consumedBy *string, now time.Time) (bool, error) {
	query := `
		UPDATE recommendation_links
		SET state = $2, consumed_at = $3, consumed_by = $4
		WHERE token_hash = $1 AND state = $5 AND expires_at > $3`

	res, err := r.db.ExecContext(ctx, query,
		tokenHash, models.LinkStateConsumed, now, consumedBy,
		models.LinkStateActive,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkExpired lazily flips an ACTIVE link past its deadline to EXPIRED. Losing
// the race to Consume or to another MarkExpired is harmless, so the result is
// not checked.
func (r *LinkRepository) MarkExpired(ctx context.Context, tokenHash string, now time.Time) error {
	query := `
		UPDATE recommendation_links
		SET state = $2
		WHERE token_hash = $1 AND state = $3 AND expires_at <= $4`

	_, err := r.db.ExecContext(ctx, query,
		tokenHash, models.LinkStateExpired, models.LinkStateActive, now,
	)
	return err
}

// ExpireOverdue performs a bulk sweep of ACTIVE links past their deadline,
// returning how many rows were flipped. Used by the background expiry job.
func (r *LinkRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE recommendation_links
		SET state = $1
		WHERE state = $2 AND expires_at <= $3`

	res, err := r.db.ExecContext(ctx, query,
		models.LinkStateExpired, models.LinkStateActive, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Revoke flips an ACTIVE link to REVOKED. Only the creator can revoke.
func (r *LinkRepository) Revoke(ctx context.Context, linkID, createdBy string) (bool, error) {
	query := `
		UPDATE recommendation_links
		SET state = $2
		WHERE id = $1 AND created_by = $3 AND state = $4`

	res, err := r.db.ExecContext(ctx, query,
		linkID, models.LinkStateRevoked, createdBy, models.LinkStateActive,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListByRequest lists all links issued for a request, newest first
func (r *LinkRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.RecommendationLink, error) {
	var links []*models.RecommendationLink
	query := `SELECT * FROM recommendation_links WHERE request_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &links, query, requestID)
	return links, err
}

// ListByCreator lists all links a user has generated, newest first
func (r *LinkRepository) ListByCreator(ctx context.Context, createdBy string) ([]*models.RecommendationLink, error) {
	var links []*models.RecommendationLink
	query := `SELECT * FROM recommendation_links WHERE created_by = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &links, query, createdBy)
	return links, err
}
