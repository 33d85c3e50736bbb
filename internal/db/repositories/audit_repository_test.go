package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/readmystudent/readmystudent/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var auditCols = []string{
	"id", "occurred_at", "actor_id", "actor_role", "action",
	"subject_type", "subject_id", "outcome", "source_ip", "request_id", "metadata",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

func sampleAuditRow() *sqlmock.Rows {
	return sqlmock.NewRows(auditCols).
		AddRow("evt-1", time.Now(), "user-1", "STUDENT", "link.generate",
			"link", "link-1", "success", "1.2.3.4", "req-abc", []byte(`{"key":"val"}`))
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// CreateAuditEvent
// ---------------------------------------------------------------------------

func TestCreateAuditEvent_Success(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.AuditEvent{
		ActorID:     strPtr("user-1"),
		ActorRole:   strPtr(models.RoleStudent),
		Action:      "link.generate",
		SubjectType: "link",
		SubjectID:   strPtr("link-1"),
		Outcome:     models.AuditOutcomeSuccess,
		SourceIP:    strPtr("1.2.3.4"),
	}
	if err := repo.CreateAuditEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID == "" {
		t.Error("expected ID to be set")
	}
	if event.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be stamped")
	}
}

func TestCreateAuditEvent_WithMetadata(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.AuditEvent{
		Action:      "link.consume",
		SubjectType: "link",
		Outcome:     models.AuditOutcomeSuccess,
		Metadata:    map[string]interface{}{"token_ref": "2cf24dba5fb0"},
	}
	if err := repo.CreateAuditEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateAuditEvent_AnonymousActor(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	// Link consumption has no authenticated actor
	event := &models.AuditEvent{
		Action:      "link.consume",
		SubjectType: "link",
		Outcome:     models.AuditOutcomeDenied,
	}
	if err := repo.CreateAuditEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateAuditEvent_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errDB)

	event := &models.AuditEvent{Action: "auth.login", SubjectType: "user", Outcome: models.AuditOutcomeError}
	if err := repo.CreateAuditEvent(context.Background(), event); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListAuditEvents
// ---------------------------------------------------------------------------

func TestListAuditEvents_NoFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM audit_events.*ORDER BY occurred_at").
		WillReturnRows(sampleAuditRow())

	events, total, err := repo.ListAuditEvents(context.Background(), AuditFilters{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(events) != 1 {
		t.Errorf("len = %d, want 1", len(events))
	}
	if events[0].Metadata["key"] != "val" {
		t.Errorf("metadata not unmarshaled: %v", events[0].Metadata)
	}
}

func TestListAuditEvents_WithFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_events.*actor_id.*action").
		WithArgs("user-1", "link.generate").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM audit_events.*actor_id.*action.*ORDER BY").
		WithArgs("user-1", "link.generate", 20, 0).
		WillReturnRows(sampleAuditRow())

	filters := AuditFilters{
		ActorID: strPtr("user-1"),
		Action:  strPtr("link.generate"),
	}
	events, total, err := repo.ListAuditEvents(context.Background(), filters, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Errorf("total = %d, len = %d, want 1 and 1", total, len(events))
	}
}

func TestListAuditEvents_CountError(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_events").
		WillReturnError(errDB)

	_, _, err := repo.ListAuditEvents(context.Background(), AuditFilters{}, 20, 0)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetAuditEvent
// ---------------------------------------------------------------------------

func TestGetAuditEvent_Found(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT.*FROM audit_events.*WHERE id").
		WithArgs("evt-1").
		WillReturnRows(sampleAuditRow())

	event, err := repo.GetAuditEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("expected event, got nil")
	}
	if event.Action != "link.generate" {
		t.Errorf("Action = %s, want link.generate", event.Action)
	}
}

func TestGetAuditEvent_NotFound(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT.*FROM audit_events.*WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditCols))

	event, err := repo.GetAuditEvent(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Error("expected nil event, got non-nil")
	}
}
