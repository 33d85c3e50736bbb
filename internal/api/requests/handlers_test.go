package requests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const (
	testStudentID = "student-1"
	testFacultyID = "faculty-1"
)

var userCols = []string{"id", "email", "password_hash", "role", "email_verified", "created_at", "updated_at"}

var requestCols = []string{
	"id", "student_id", "faculty_id", "status", "waived_access",
	"target_program", "target_institution", "deadline", "message",
	"created_at", "updated_at",
}

var letterCols = []string{
	"id", "request_id", "author_id", "body", "archive_key", "finalized_at",
	"created_at", "updated_at",
}

func facultyRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(testFacultyID, "prof@example.edu", "hash", models.RoleFaculty, true,
			time.Now(), time.Now())
}

func requestRow(status string, waived bool) *sqlmock.Rows {
	return sqlmock.NewRows(requestCols).
		AddRow("req-1", testStudentID, testFacultyID, status, waived,
			nil, nil, nil, nil, time.Now(), time.Now())
}

func letterRow(body string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(letterCols).
		AddRow("letter-1", "req-1", testFacultyID, body, nil, now, now, now)
}

func newRequestRouter(t *testing.T, userID, role string) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	h := NewHandlers(&config.Config{},
		repositories.NewRequestRepository(sqlxDB),
		repositories.NewUserRepository(db),
		nil, nil, nil,
	)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextRole, role)
	})
	r.POST("/requests", h.CreateHandler())
	r.GET("/requests", h.ListHandler())
	r.POST("/requests/:id/accept", h.AcceptHandler())
	r.POST("/requests/:id/decline", h.DeclineHandler())
	r.PUT("/requests/:id/draft", h.DraftHandler())
	r.POST("/requests/:id/finalize", h.FinalizeHandler())
	r.GET("/requests/:id/letter", h.LetterHandler())

	return mock, r
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func TestCreate_Success(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("prof@example.edu").
		WillReturnRows(facultyRow())
	mock.ExpectExec("INSERT INTO recommendation_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPost, "/requests", gin.H{
		"facultyEmail": "Prof@Example.edu",
		"waiveAccess":  true,
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"waivedAccess":true`) {
		t.Errorf("expected waiver flag in response: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), models.RequestStatusRequested) {
		t.Errorf("expected REQUESTED status: %s", w.Body.String())
	}
}

func TestCreate_MissingFacultyEmail(t *testing.T) {
	_, r := newRequestRouter(t, testStudentID, models.RoleStudent)

	w := doJSON(r, http.MethodPost, "/requests", gin.H{})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_UnknownFaculty(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := doJSON(r, http.MethodPost, "/requests", gin.H{"facultyEmail": "nobody@example.edu"})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreate_TargetIsNotFaculty(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("student-2", "peer@example.edu", "hash", models.RoleStudent, true,
				time.Now(), time.Now()))

	w := doJSON(r, http.MethodPost, "/requests", gin.H{"facultyEmail": "peer@example.edu"})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (student account, not faculty)", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListHandler
// ---------------------------------------------------------------------------

func TestList_StudentSeesOwn(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE student_id").
		WithArgs(testStudentID).
		WillReturnRows(requestRow(models.RequestStatusRequested, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "req-1") {
		t.Errorf("expected request in listing: %s", w.Body.String())
	}
}

func TestList_FacultySeesAssigned(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE faculty_id").
		WithArgs(testFacultyID).
		WillReturnRows(requestRow(models.RequestStatusDrafting, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), models.RequestStatusDrafting) {
		t.Errorf("expected DRAFTING request: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Accept / Decline
// ---------------------------------------------------------------------------

func TestAccept_Success(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectExec("UPDATE recommendation_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPost, "/requests/req-1/accept", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestAccept_WrongState(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectExec("UPDATE recommendation_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := doJSON(r, http.MethodPost, "/requests/req-1/accept", nil)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestDecline_Success(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectExec("UPDATE recommendation_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPost, "/requests/req-1/decline", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "declined") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// DraftHandler
// ---------------------------------------------------------------------------

func TestDraft_Success(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusDrafting, false))
	mock.ExpectQuery("SELECT \\* FROM recommendation_letters").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(letterCols))
	mock.ExpectExec("INSERT INTO recommendation_letters").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPut, "/requests/req-1/draft", gin.H{"body": "First draft."})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestDraft_NotAssignedFaculty(t *testing.T) {
	mock, r := newRequestRouter(t, "other-faculty", models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusDrafting, false))

	w := doJSON(r, http.MethodPut, "/requests/req-1/draft", gin.H{"body": "Draft."})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (foreign request)", w.Code)
	}
}

func TestDraft_NotDrafting(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusFinalized, false))

	w := doJSON(r, http.MethodPut, "/requests/req-1/draft", gin.H{"body": "Too late."})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// ---------------------------------------------------------------------------
// FinalizeHandler
// ---------------------------------------------------------------------------

func TestFinalize_Success(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_letters").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(letterCols))
	// Status change and letter row commit together.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recommendation_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO recommendation_letters").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	w := doJSON(r, http.MethodPost, "/requests/req-1/finalize", gin.H{
		"body": "I recommend this student without reservation.",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "finalized") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFinalize_NotDrafting(t *testing.T) {
	mock, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)
	mock.ExpectQuery("SELECT \\* FROM recommendation_letters").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(letterCols))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recommendation_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	w := doJSON(r, http.MethodPost, "/requests/req-1/finalize", gin.H{"body": "Letter."})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestFinalize_EmptyBody(t *testing.T) {
	_, r := newRequestRouter(t, testFacultyID, models.RoleFaculty)

	w := doJSON(r, http.MethodPost, "/requests/req-1/finalize", gin.H{"body": ""})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// LetterHandler
// ---------------------------------------------------------------------------

func TestLetter_StudentView(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusFinalized, false))
	mock.ExpectQuery("SELECT l\\.\\* FROM recommendation_letters").
		WithArgs("req-1", testStudentID).
		WillReturnRows(letterRow("A sincere endorsement."))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/req-1/letter", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "sincere endorsement") {
		t.Errorf("expected letter body: %s", w.Body.String())
	}
}

func TestLetter_WaivedAccessDenied(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusFinalized, true))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/req-1/letter", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 (access waived)", w.Code)
	}
	if strings.Contains(w.Body.String(), "endorsement") {
		t.Error("waived view must not leak letter content")
	}
}

func TestLetter_NotOwner(t *testing.T) {
	mock, r := newRequestRouter(t, "student-2", models.RoleStudent)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusFinalized, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/req-1/letter", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLetter_NotFinalized(t *testing.T) {
	mock, r := newRequestRouter(t, testStudentID, models.RoleStudent)
	mock.ExpectQuery("SELECT \\* FROM recommendation_requests WHERE id").
		WithArgs("req-1").
		WillReturnRows(requestRow(models.RequestStatusDrafting, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/req-1/letter", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (no letter yet)", w.Code)
	}
}
