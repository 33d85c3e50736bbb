// audit_repository.go implements AuditRepository, providing append and read
// access to the audit trail. The trail is append-only: no update or delete
// statement exists in this file.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// AuditRepository handles audit event database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit events
type AuditFilters struct {
	ActorID     *string
	Action      *string
	SubjectType *string
	SubjectID   *string
	Outcome     *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// CreateAuditEvent appends a new audit event
func (r *AuditRepository) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	event.ID = uuid.New().String()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	// Marshal metadata to JSONB
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_events (id, occurred_at, actor_id, actor_role, action, subject_type, subject_id, outcome, source_ip, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.OccurredAt,
		event.ActorID,
		event.ActorRole,
		event.Action,
		event.SubjectType,
		event.SubjectID,
		event.Outcome,
		event.SourceIP,
		event.RequestID,
		metadataJSON,
	)

	return err
}

// ListAuditEvents retrieves audit events with optional filters and pagination
func (r *AuditRepository) ListAuditEvents(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	query := `
		SELECT id, occurred_at, actor_id, actor_role, action, subject_type, subject_id, outcome, source_ip, request_id, metadata
		FROM audit_events
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		countQuery += fmt.Sprintf(clause, paramIndex)
		query += fmt.Sprintf(clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if filters.ActorID != nil {
		addFilter(` AND actor_id = $%d`, *filters.ActorID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.SubjectType != nil {
		addFilter(` AND subject_type = $%d`, *filters.SubjectType)
	}
	if filters.SubjectID != nil {
		addFilter(` AND subject_id = $%d`, *filters.SubjectID)
	}
	if filters.Outcome != nil {
		addFilter(` AND outcome = $%d`, *filters.Outcome)
	}
	if filters.StartDate != nil {
		addFilter(` AND occurred_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND occurred_at <= $%d`, *filters.EndDate)
	}

	// Get total count
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event := &models.AuditEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.OccurredAt,
			&event.ActorID,
			&event.ActorRole,
			&event.Action,
			&event.SubjectType,
			&event.SubjectID,
			&event.Outcome,
			&event.SourceIP,
			&event.RequestID,
			&metadataJSON,
		)
		if err != nil {
			return nil, 0, err
		}

		if metadataJSON != nil {
			err = json.Unmarshal(metadataJSON, &event.Metadata)
			if err != nil {
				return nil, 0, err
			}
		}

		events = append(events, event)
	}

	return events, total, rows.Err()
}

// GetAuditEvent retrieves a single audit event by ID
func (r *AuditRepository) GetAuditEvent(ctx context.Context, eventID string) (*models.AuditEvent, error) {
	query := `
		SELECT id, occurred_at, actor_id, actor_role, action, subject_type, subject_id, outcome, source_ip, request_id, metadata
		FROM audit_events
		WHERE id = $1
	`

	event := &models.AuditEvent{}
	var metadataJSON []byte

	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.ID,
		&event.OccurredAt,
		&event.ActorID,
		&event.ActorRole,
		&event.Action,
		&event.SubjectType,
		&event.SubjectID,
		&event.Outcome,
		&event.SourceIP,
		&event.RequestID,
		&metadataJSON,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		err = json.Unmarshal(metadataJSON, &event.Metadata)
		if err != nil {
			return nil, err
		}
	}

	return event, nil
}
