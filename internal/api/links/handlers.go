// Package links implements HTTP handlers for the single-use recommendation
// link lifecycle: generation by the owning student, anonymous consumption by
// the token holder, revocation, and listing.
//
// Consumption denials are uniform: an unknown token, an already-consumed
// token, an expired token, and a revoked token all produce the same 404 body.
// The distinction lives only in the audit trail and metrics, which the viewer
// never sees.
package links

import (
	"context"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/crypto"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/middleware"
	"github.com/readmystudent/readmystudent/internal/safego"
	"github.com/readmystudent/readmystudent/internal/services"
	"github.com/readmystudent/readmystudent/internal/telemetry"
	"github.com/readmystudent/readmystudent/pkg/tokenref"
)

// notFoundBody is the single denial response for every failed consumption.
var notFoundBody = gin.H{"error": "Not found"}

// Handlers handles recommendation-link endpoints
type Handlers struct {
	cfg         *config.Config
	linkRepo    *repositories.LinkRepository
	requestRepo *repositories.RequestRepository
	userRepo    *repositories.UserRepository
	archiver    *services.LetterArchiver
	cipher      *crypto.LetterCipher
	recorder    *audit.Recorder
	mailer      *services.Mailer
}

// NewHandlers creates a new link Handlers instance
func NewHandlers(cfg *config.Config, linkRepo *repositories.LinkRepository, requestRepo *repositories.RequestRepository, userRepo *repositories.UserRepository, archiver *services.LetterArchiver, cipher *crypto.LetterCipher, recorder *audit.Recorder, mailer *services.Mailer) *Handlers {
	return &Handlers{
		cfg:         cfg,
		linkRepo:    linkRepo,
		requestRepo: requestRepo,
		userRepo:    userRepo,
		archiver:    archiver,
		cipher:      cipher,
		recorder:    recorder,
		mailer:      mailer,
	}
}

// @Summary      Generate a single-use link
// @Description  Creates a single-use access link for a finalized letter. The raw token appears only in this response; the server stores just its hash.
// @Tags         Links
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "id, token, expiresAt"
// @Failure      404  {object}  map[string]interface{}  "Request not found or not owned by the caller"
// @Failure      409  {object}  map[string]interface{}  "Letter not finalized"
// @Router       /api/v1/links [post]
// GenerateHandler creates a link for a finalized letter
// POST /api/v1/links
func (h *Handlers) GenerateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)

		var req struct {
			RequestID   string  `json:"requestId"`
			ViewerEmail *string `json:"viewerEmail"`
			TTLDays     int     `json:"ttlDays"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.RequestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "requestId is required"})
			return
		}

		request, err := h.requestRepo.GetByID(c.Request.Context(), req.RequestID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load request"})
			return
		}
		// Ownership failures read the same as a missing request.
		if request == nil || request.StudentID != userID {
			h.record(c, "link.generate", nil, models.AuditOutcomeDenied, map[string]interface{}{
				"request_id": req.RequestID,
			})
			c.JSON(http.StatusNotFound, notFoundBody)
			return
		}
		if !request.IsFinalized() {
			c.JSON(http.StatusConflict, gin.H{"error": "The letter for this request is not finalized"})
			return
		}

		ttl := h.cfg.Links.DefaultTTL
		if req.TTLDays > 0 {
			ttl = time.Duration(req.TTLDays) * 24 * time.Hour
		}
		if h.cfg.Links.MaxTTL > 0 && ttl > h.cfg.Links.MaxTTL {
			ttl = h.cfg.Links.MaxTTL
		}

		rawToken, tokenHash, err := tokenref.New()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		link := &models.RecommendationLink{
			RequestID:   request.ID,
			CreatedBy:   userID,
			TokenHash:   tokenHash,
			ViewerEmail: req.ViewerEmail,
			ExpiresAt:   time.Now().Add(ttl),
		}
		if err := h.linkRepo.Create(c.Request.Context(), link); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create link"})
			return
		}

		telemetry.LinksGeneratedTotal.Inc()
		h.record(c, "link.generate", &link.ID, models.AuditOutcomeSuccess, map[string]interface{}{
			"request_id": request.ID,
			"ref":        tokenref.Ref(tokenHash),
		})

		c.JSON(http.StatusCreated, gin.H{
			"id":        link.ID,
			"token":     rawToken,
			"state":     link.State,
			"expiresAt": link.ExpiresAt,
		})
	}
}

// @Summary      Consume a link
// @Description  Redeems a single-use link and serves the letter content. Exactly one concurrent caller wins; every other attempt gets the same generic 404.
// @Tags         Links
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "letter content"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/links/{token} [get]
// ConsumeHandler redeems a link token
// GET /api/v1/links/:token
func (h *Handlers) ConsumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := c.Param("token")
		tokenHash := tokenref.Hash(rawToken)
		ref := tokenref.Ref(tokenHash)
		now := time.Now()

		// A signed-in viewer's account ID is recorded as the redeemer;
		// anonymous consumption stays anonymous.
		var consumedBy *string
		if id := c.GetString(middleware.ContextUserID); id != "" {
			consumedBy = &id
		}

		won, err := h.linkRepo.Consume(c.Request.Context(), tokenHash, consumedBy, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process link"})
			return
		}

		if !won {
			h.denyConsumption(c, tokenHash, ref, now)
			return
		}

		link, err := h.linkRepo.GetByTokenHash(c.Request.Context(), tokenHash)
		if err != nil || link == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load link"})
			return
		}

		content, err := h.letterContent(c, link.RequestID)
		if err != nil {
			slog.Error("failed to load letter content for consumed link", "link_id", link.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load letter"})
			return
		}

		telemetry.LinkConsumptionsTotal.WithLabelValues("consumed").Inc()
		h.record(c, "link.consume", &link.ID, models.AuditOutcomeSuccess, map[string]interface{}{
			"ref":    ref,
			"result": "consumed",
		})
		h.notifyOwner(link, now)

		c.JSON(http.StatusOK, gin.H{
			"letter": gin.H{
				"content": content,
			},
			"consumedAt": now,
		})
	}
}

// denyConsumption classifies a failed redemption for metrics and audit, then
// answers with the one generic denial. An ACTIVE row past its deadline is
// flipped to EXPIRED here, lazily.
func (h *Handlers) denyConsumption(c *gin.Context, tokenHash, ref string, now time.Time) {
	outcome := "unknown"

	link, err := h.linkRepo.GetByTokenHash(c.Request.Context(), tokenHash)
	if err == nil && link != nil {
		switch link.State {
		case models.LinkStateConsumed:
			outcome = "already_used"
		case models.LinkStateExpired:
			outcome = "expired"
		case models.LinkStateActive:
			if link.Expired(now) {
				outcome = "expired"
				if markErr := h.linkRepo.MarkExpired(c.Request.Context(), tokenHash, now); markErr != nil {
					slog.Warn("lazy expiry failed", "ref", ref, "error", markErr)
				}
			}
		}
	}

	telemetry.LinkConsumptionsTotal.WithLabelValues(outcome).Inc()

	var subjectID *string
	if link != nil {
		subjectID = &link.ID
	}
	h.record(c, "link.consume", subjectID, models.AuditOutcomeDenied, map[string]interface{}{
		"ref":    ref,
		"result": outcome,
	})

	c.JSON(http.StatusNotFound, notFoundBody)
}

// letterContent loads and decrypts the letter body for a request, falling back
// to the archive backend when the row stores an archive key instead of inline
// content.
func (h *Handlers) letterContent(c *gin.Context, requestID string) (string, error) {
	letter, err := h.requestRepo.GetLetterByRequest(c.Request.Context(), requestID)
	if err != nil {
		return "", err
	}
	if letter == nil {
		return "", errLetterMissing
	}

	if letter.Body == "" && letter.ArchiveKey != nil && h.archiver != nil {
		return h.archiver.Retrieve(c.Request.Context(), *letter.ArchiveKey)
	}
	return h.cipher.Open(letter.Body)
}

// notifyOwner mails the link creator that their link was redeemed,
// best-effort in the background.
func (h *Handlers) notifyOwner(link *models.RecommendationLink, consumedAt time.Time) {
	if h.mailer == nil || !h.mailer.Enabled() {
		return
	}

	ownerID := link.CreatedBy
	ref := tokenref.Ref(link.TokenHash)
	safego.GoNamed("link-consumed-mail", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		owner, err := h.userRepo.GetUserByID(ctx, ownerID)
		if err != nil || owner == nil {
			return
		}
		name := owner.Email
		if profile, err := h.userRepo.GetStudentProfile(ctx, ownerID); err == nil && profile != nil {
			name = profile.FullName
		}
		if err := h.mailer.SendLinkConsumedEmail(owner.Email, name, ref, consumedAt); err != nil {
			slog.Warn("link-consumed notification failed", "user_id", ownerID, "error", err)
		}
	})
}

// @Summary      List own links
// @Description  Lists the links the signed-in student has generated, with their states and a consumption audit summary. Raw tokens are never returned.
// @Tags         Links
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "links"
// @Router       /api/v1/links [get]
// ListHandler lists the caller's links
// GET /api/v1/links
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)

		links, err := h.linkRepo.ListByCreator(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list links"})
			return
		}

		out := make([]gin.H, 0, len(links))
		for _, link := range links {
			out = append(out, gin.H{
				"id":          link.ID,
				"requestId":   link.RequestID,
				"ref":         tokenref.Ref(link.TokenHash),
				"state":       link.State,
				"viewerEmail": link.ViewerEmail,
				"expiresAt":   link.ExpiresAt,
				"consumedAt":  link.ConsumedAt,
				"createdAt":   link.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{"links": out})
	}
}

// @Summary      Link audit trail
// @Description  Returns the audit events recorded against one of the caller's links: generation, consumption, and every denied attempt.
// @Tags         Links
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "events"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/links/{id}/audit [get]
// AuditTrailHandler lists audit events for one of the caller's links
// GET /api/v1/links/:id/audit
func (h *Handlers) AuditTrailHandler(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		linkID := c.Param("id")

		links, err := h.linkRepo.ListByCreator(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load link"})
			return
		}
		owned := false
		for _, l := range links {
			if l.ID == linkID {
				owned = true
				break
			}
		}
		if !owned {
			c.JSON(http.StatusNotFound, notFoundBody)
			return
		}

		subjectType := "recommendation_link"
		events, _, err := auditRepo.ListAuditEvents(c.Request.Context(), repositories.AuditFilters{
			SubjectType: &subjectType,
			SubjectID:   &linkID,
		}, 100, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit trail"})
			return
		}

		out := make([]gin.H, 0, len(events))
		for _, ev := range events {
			out = append(out, gin.H{
				"action":     ev.Action,
				"outcome":    ev.Outcome,
				"occurredAt": ev.OccurredAt,
				"metadata":   ev.Metadata,
			})
		}
		c.JSON(http.StatusOK, gin.H{"events": out})
	}
}

// @Summary      Revoke a link
// @Description  Revokes one of the caller's ACTIVE links. Revoked links deny consumption like any other terminal state.
// @Tags         Links
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: revoked"
// @Failure      404  {object}  map[string]interface{}  "Not found, not owned, or not active"
// @Router       /api/v1/links/{id}/revoke [post]
// RevokeHandler revokes an active link
// POST /api/v1/links/:id/revoke
func (h *Handlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		linkID := c.Param("id")

		revoked, err := h.linkRepo.Revoke(c.Request.Context(), linkID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke link"})
			return
		}
		if !revoked {
			// Missing, foreign, and already-terminal links share one answer.
			c.JSON(http.StatusNotFound, notFoundBody)
			return
		}

		h.record(c, "link.revoke", &linkID, models.AuditOutcomeSuccess, nil)
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	}
}

// record appends a domain audit event and suppresses the generic HTTP entry
func (h *Handlers) record(c *gin.Context, action string, subjectID *string, outcome string, metadata map[string]interface{}) {
	ip := c.ClientIP()
	event := &models.AuditEvent{
		Action:      action,
		SubjectType: "recommendation_link",
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

var errLetterMissing = errors.New("letter row missing for consumed link")
