// Package requests implements HTTP handlers for the recommendation-request
// lifecycle: a student asks a named faculty member for a letter, the faculty
// member accepts and drafts, and finalization freezes the letter for link
// generation. The student's view of the finished letter honors the access
// waiver recorded at creation.
package requests

import (
	"context"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/crypto"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/middleware"
	"github.com/readmystudent/readmystudent/internal/services"
)

// Handlers handles recommendation-request endpoints
type Handlers struct {
	cfg         *config.Config
	requestRepo *repositories.RequestRepository
	userRepo    *repositories.UserRepository
	archiver    *services.LetterArchiver
	cipher      *crypto.LetterCipher
	recorder    *audit.Recorder
}

// NewHandlers creates a new request Handlers instance
func NewHandlers(cfg *config.Config, requestRepo *repositories.RequestRepository, userRepo *repositories.UserRepository, archiver *services.LetterArchiver, cipher *crypto.LetterCipher, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		cfg:         cfg,
		requestRepo: requestRepo,
		userRepo:    userRepo,
		archiver:    archiver,
		cipher:      cipher,
		recorder:    recorder,
	}
}

// @Summary      Create a recommendation request
// @Description  Creates a request addressed to a registered faculty member, named by email. The access waiver is fixed here and cannot be changed later.
// @Tags         Requests
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "No faculty account for that email"
// @Router       /api/v1/requests [post]
// CreateHandler creates a new request
// POST /api/v1/requests
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID := c.GetString(middleware.ContextUserID)

		var req struct {
			FacultyEmail      string     `json:"facultyEmail"`
			WaiveAccess       bool       `json:"waiveAccess"`
			TargetProgram     *string    `json:"targetProgram"`
			TargetInstitution *string    `json:"targetInstitution"`
			Deadline          *time.Time `json:"deadline"`
			Message           *string    `json:"message"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.FacultyEmail == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "facultyEmail is required"})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.FacultyEmail))
		faculty, err := h.userRepo.GetUserByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up faculty account"})
			return
		}
		if faculty == nil || !faculty.IsFaculty() {
			c.JSON(http.StatusNotFound, gin.H{"error": "No faculty account is registered for that email"})
			return
		}

		request := &models.RecommendationRequest{
			StudentID:         studentID,
			FacultyID:         &faculty.ID,
			WaivedAccess:      req.WaiveAccess,
			TargetProgram:     req.TargetProgram,
			TargetInstitution: req.TargetInstitution,
			Deadline:          req.Deadline,
			Message:           req.Message,
		}
		if err := h.requestRepo.Create(c.Request.Context(), request); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create request"})
			return
		}

		h.record(c, "request.create", &request.ID, models.AuditOutcomeSuccess, map[string]interface{}{
			"faculty_id":    faculty.ID,
			"waived_access": request.WaivedAccess,
		})

		c.JSON(http.StatusCreated, requestJSON(request))
	}
}

// @Summary      List requests
// @Description  Students see the requests they created; faculty see the requests addressed to them.
// @Tags         Requests
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/requests [get]
// ListHandler lists requests for the caller
// GET /api/v1/requests
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		role := c.GetString(middleware.ContextRole)

		var (
			requests []*models.RecommendationRequest
			err      error
		)
		if role == models.RoleFaculty {
			requests, err = h.requestRepo.ListByFaculty(c.Request.Context(), userID)
		} else {
			requests, err = h.requestRepo.ListByStudent(c.Request.Context(), userID)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list requests"})
			return
		}

		out := make([]gin.H, 0, len(requests))
		for _, request := range requests {
			out = append(out, requestJSON(request))
		}
		c.JSON(http.StatusOK, gin.H{"requests": out})
	}
}

// @Summary      Accept a request
// @Description  Moves a REQUESTED request addressed to the caller into DRAFTING.
// @Tags         Requests
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Not addressed to the caller or not in an acceptable state"
// @Router       /api/v1/requests/{id}/accept [post]
// AcceptHandler accepts a request
// POST /api/v1/requests/:id/accept
func (h *Handlers) AcceptHandler() gin.HandlerFunc {
	return h.transition("request.accept", "accepted", h.requestRepo.Accept)
}

// @Summary      Decline a request
// @Description  Moves a REQUESTED or DRAFTING request addressed to the caller into DECLINED.
// @Tags         Requests
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Router       /api/v1/requests/{id}/decline [post]
// DeclineHandler declines a request
// POST /api/v1/requests/:id/decline
func (h *Handlers) DeclineHandler() gin.HandlerFunc {
	return h.transition("request.decline", "declined", h.requestRepo.Decline)
}

// transition builds a handler for the accept/decline state changes, which
// differ only in the repository call and the recorded action.
func (h *Handlers) transition(action, status string, fn func(ctx context.Context, requestID, facultyID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		facultyID := c.GetString(middleware.ContextUserID)
		requestID := c.Param("id")

		err := fn(c.Request.Context(), requestID, facultyID)
		if err == repositories.ErrInvalidTransition {
			c.JSON(http.StatusConflict, gin.H{"error": "Request is not in a state that allows this"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update request"})
			return
		}

		h.record(c, action, &requestID, models.AuditOutcomeSuccess, nil)
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

// @Summary      Save a letter draft
// @Description  Creates or replaces the letter draft for a DRAFTING request assigned to the caller. Drafts are stored encrypted and are never visible to the student.
// @Tags         Requests
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/requests/{id}/draft [put]
// DraftHandler saves the letter draft
// PUT /api/v1/requests/:id/draft
func (h *Handlers) DraftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		facultyID := c.GetString(middleware.ContextUserID)
		requestID := c.Param("id")

		var req struct {
			Body string `json:"body"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Body == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
			return
		}

		request, err := h.requestRepo.GetByID(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load request"})
			return
		}
		if request == nil || request.FacultyID == nil || *request.FacultyID != facultyID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if request.Status != models.RequestStatusDrafting {
			c.JSON(http.StatusConflict, gin.H{"error": "Request is not in drafting"})
			return
		}

		sealed, err := h.cipher.Seal(req.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store draft"})
			return
		}

		letter := &models.RecommendationLetter{
			RequestID: requestID,
			AuthorID:  facultyID,
			Body:      sealed,
		}
		if existing, err := h.requestRepo.GetLetterByRequest(c.Request.Context(), requestID); err == nil && existing != nil {
			letter.ID = existing.ID
			letter.CreatedAt = existing.CreatedAt
		}
		if err := h.requestRepo.UpsertLetter(c.Request.Context(), letter); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store draft"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "draft saved", "updatedAt": letter.UpdatedAt})
	}
}

// @Summary      Finalize a letter
// @Description  Moves a DRAFTING request into FINALIZED with the submitted letter content. The stored body is sealed at rest and an immutable copy is archived to the configured backend, best-effort.
// @Tags         Requests
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Router       /api/v1/requests/{id}/finalize [post]
// FinalizeHandler finalizes the letter for a request
// POST /api/v1/requests/:id/finalize
func (h *Handlers) FinalizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		facultyID := c.GetString(middleware.ContextUserID)
		requestID := c.Param("id")

		var req struct {
			Body string `json:"body"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Body == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
			return
		}

		sealed, err := h.cipher.Seal(req.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store letter"})
			return
		}

		now := time.Now()
		letter := &models.RecommendationLetter{
			RequestID:   requestID,
			AuthorID:    facultyID,
			Body:        sealed,
			FinalizedAt: &now,
		}
		if existing, lookupErr := h.requestRepo.GetLetterByRequest(c.Request.Context(), requestID); lookupErr == nil && existing != nil {
			letter.ID = existing.ID
			letter.CreatedAt = existing.CreatedAt
		}

		// Status transition and letter row land in one transaction: a
		// FINALIZED request always has its letter.
		err = h.requestRepo.FinalizeWithLetter(c.Request.Context(), requestID, facultyID, letter)
		if err == repositories.ErrInvalidTransition {
			c.JSON(http.StatusConflict, gin.H{"error": "Request is not in a state that allows finalization"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to finalize request"})
			return
		}

		if h.archiver != nil {
			// The archiver seals its own copy; hand it the plaintext.
			archiveCopy := *letter
			archiveCopy.Body = req.Body
			if archiveErr := h.archiver.Finalize(c.Request.Context(), &archiveCopy, now); archiveErr != nil {
				slog.Error("letter archive failed", "request_id", requestID, "error", archiveErr)
			}
		}

		h.record(c, "request.finalize", &requestID, models.AuditOutcomeSuccess, map[string]interface{}{
			"letter_id": letter.ID,
		})

		c.JSON(http.StatusOK, gin.H{
			"status":      "finalized",
			"letterId":    letter.ID,
			"finalizedAt": now,
		})
	}
}

// @Summary      View own letter
// @Description  Returns the finalized letter for a request the caller created, unless the caller waived their right of access at creation.
// @Tags         Requests
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Access waived"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/requests/{id}/letter [get]
// LetterHandler returns the letter to the owning student
// GET /api/v1/requests/:id/letter
func (h *Handlers) LetterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID := c.GetString(middleware.ContextUserID)
		requestID := c.Param("id")

		request, err := h.requestRepo.GetByID(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load request"})
			return
		}
		if request == nil || request.StudentID != studentID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if request.WaivedAccess {
			h.record(c, "letter.student_view", &requestID, models.AuditOutcomeDenied, map[string]interface{}{
				"reason": "access_waived",
			})
			c.JSON(http.StatusForbidden, gin.H{"error": "You waived access to this letter"})
			return
		}
		if !request.IsFinalized() {
			c.JSON(http.StatusNotFound, gin.H{"error": "No letter is available yet"})
			return
		}

		letter, err := h.requestRepo.GetLetterForStudent(c.Request.Context(), requestID, studentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load letter"})
			return
		}
		if letter == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No letter is available yet"})
			return
		}

		body, err := h.cipher.Open(letter.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load letter"})
			return
		}

		h.record(c, "letter.student_view", &requestID, models.AuditOutcomeSuccess, nil)
		c.JSON(http.StatusOK, gin.H{
			"letter": gin.H{
				"id":          letter.ID,
				"body":        body,
				"finalizedAt": letter.FinalizedAt,
			},
		})
	}
}

// requestJSON is the wire shape of a request across the endpoints
func requestJSON(request *models.RecommendationRequest) gin.H {
	return gin.H{
		"id":                request.ID,
		"studentId":         request.StudentID,
		"facultyId":         request.FacultyID,
		"status":            request.Status,
		"waivedAccess":      request.WaivedAccess,
		"targetProgram":     request.TargetProgram,
		"targetInstitution": request.TargetInstitution,
		"deadline":          request.Deadline,
		"message":           request.Message,
		"createdAt":         request.CreatedAt,
	}
}

// record appends a domain audit event and suppresses the generic HTTP entry
func (h *Handlers) record(c *gin.Context, action string, subjectID *string, outcome string, metadata map[string]interface{}) {
	ip := c.ClientIP()
	event := &models.AuditEvent{
		Action:      action,
		SubjectType: "recommendation_request",
		SubjectID:   subjectID,
		Outcome:     outcome,
		SourceIP:    &ip,
		Metadata:    metadata,
	}
	if id := c.GetString(middleware.ContextUserID); id != "" {
		event.ActorID = &id
	}
	if role := c.GetString(middleware.ContextRole); role != "" {
		event.ActorRole = &role
	}
	if reqID := c.GetString(middleware.RequestIDKey); reqID != "" {
		event.RequestID = &reqID
	}

	h.recorder.Record(c.Request.Context(), event)
	c.Set(middleware.ContextAuditRecorded, true)
}
