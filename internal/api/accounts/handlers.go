// Package accounts implements HTTP handlers for registration, login, session
// introspection, logout, and email verification.
//
// Login failures are deliberately uniform: a missing account and a wrong
// password produce byte-identical 401 responses, and the missing-account path
// still runs a bcrypt compare against a sentinel hash so the two paths cost
// the same. Nothing in the response or its timing says whether an email is
// registered.
package accounts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/auth"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/middleware"
	"github.com/readmystudent/readmystudent/internal/safego"
	"github.com/readmystudent/readmystudent/internal/services"
	"github.com/readmystudent/readmystudent/internal/telemetry"
	"github.com/readmystudent/readmystudent/pkg/tokenref"
)

// sentinelHash is a syntactically valid bcrypt hash that matches no password.
// The login handler compares against it when the account does not exist, so
// the absent-account path performs the same work as the wrong-password path.
const sentinelHash = "$2a$12$CBkWdLm4M4jcCttMRii6s.qJYvpkZ2OpKh.5r7rB8YdJRmClcA/Hi"

// loginFailureBody is the single response body for every login failure.
var loginFailureBody = gin.H{"error": "Invalid email or password"}

// verificationTTL bounds how long a mailed verification token stays valid.
const verificationTTL = 48 * time.Hour

// Handlers handles account-related endpoints
type Handlers struct {
	cfg         *config.Config
	userRepo    *repositories.UserRepository
	eligibility auth.EligibilityChecker
	recorder    *audit.Recorder
	mailer      *services.Mailer
}

// NewHandlers creates a new account Handlers instance
func NewHandlers(cfg *config.Config, userRepo *repositories.UserRepository, eligibility auth.EligibilityChecker, recorder *audit.Recorder, mailer *services.Mailer) *Handlers {
	return &Handlers{
		cfg:         cfg,
		userRepo:    userRepo,
		eligibility: eligibility,
		recorder:    recorder,
		mailer:      mailer,
	}
}

// registerRequest is the tagged-union registration payload: common fields plus
// the per-role variant. Which variant fields are required depends on role.
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	FullName string `json:"fullName"`

	// Student variant
	University     string `json:"university"`
	Program        string `json:"program"`
	GraduationYear *int   `json:"graduationYear"`

	// Faculty variant
	Institution string  `json:"institution"`
	Department  *string `json:"department"`
	Title       *string `json:"title"`

	// Shared optional external institution identifier (e.g. OpenAlex ID)
	ExternalRef *string `json:"externalRef"`
}

// validate returns per-field validation errors, empty when the payload is
// well-formed for its role variant.
func (r *registerRequest) validate() map[string]string {
	fields := make(map[string]string)

	if r.Email == "" || !strings.Contains(r.Email, "@") {
		fields["email"] = "a valid email address is required"
	}
	if len(r.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(strings.TrimSpace(r.FullName)) < 2 {
		fields["fullName"] = "full name must be at least 2 characters"
	}

	switch r.Role {
	case models.RoleStudent:
		if strings.TrimSpace(r.University) == "" {
			fields["university"] = "university is required for student accounts"
		}
		if strings.TrimSpace(r.Program) == "" {
			fields["program"] = "program is required for student accounts"
		}
	case models.RoleFaculty:
		if strings.TrimSpace(r.Institution) == "" {
			fields["institution"] = "institution is required for faculty accounts"
		}
	default:
		fields["role"] = "role must be STUDENT or FACULTY"
	}

	return fields
}

// @Summary      Register an account
// @Description  Creates a STUDENT or FACULTY account with its role profile in one transaction, sets the session cookie (auto-login), and queues a verification email.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "id, email, role"
// @Failure      400  {object}  map[string]interface{}  "Validation failure with per-field detail"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates a new account
// POST /api/v1/auth/register
func (h *Handlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		if fields := req.validate(); len(fields) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "Validation failed",
				"fields": fields,
			})
			return
		}

		if req.Role == models.RoleStudent {
			eligible, err := h.eligibility.Eligible(c.Request.Context(), req.Email, req.Role)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check eligibility"})
				return
			}
			if !eligible {
				telemetry.RegistrationsTotal.WithLabelValues(req.Role, "denied").Inc()
				c.JSON(http.StatusBadRequest, gin.H{
					"error":  "Validation failed",
					"fields": gin.H{"email": "email address is not eligible for student registration"},
				})
				return
			}
		}

		existing, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
		if existing != nil {
			telemetry.RegistrationsTotal.WithLabelValues(req.Role, "denied").Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cfg.Auth.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		user := &models.User{
			Email:        req.Email,
			PasswordHash: string(hash),
		}

		switch req.Role {
		case models.RoleStudent:
			profile := &models.StudentProfile{
				FullName:        strings.TrimSpace(req.FullName),
				InstitutionID:   req.ExternalRef,
				InstitutionName: &req.University,
				Program:         &req.Program,
				GraduationYear:  req.GraduationYear,
			}
			err = h.userRepo.CreateStudent(c.Request.Context(), user, profile)
		case models.RoleFaculty:
			profile := &models.FacultyProfile{
				FullName:        strings.TrimSpace(req.FullName),
				InstitutionID:   req.ExternalRef,
				InstitutionName: &req.Institution,
				Department:      req.Department,
				Title:           req.Title,
			}
			err = h.userRepo.CreateFaculty(c.Request.Context(), user, profile)
		}
		if err != nil {
			// Two requests can race past the duplicate pre-check; the unique
			// constraint turns the loser into the same 409.
			if isUniqueViolation(err) {
				telemetry.RegistrationsTotal.WithLabelValues(req.Role, "denied").Inc()
				c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
				return
			}
			telemetry.RegistrationsTotal.WithLabelValues(req.Role, "error").Inc()
			slog.Error("account creation failed", "email", req.Email, "role", req.Role, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		telemetry.RegistrationsTotal.WithLabelValues(req.Role, "created").Inc()
		h.record(c, "account.register", "account", &user.ID, models.AuditOutcomeSuccess, map[string]interface{}{
			"role": user.Role,
		})

		// Auto-login: the registration response carries the session cookie.
		if token, tokenErr := auth.Issue(user.ID, user.Role, h.sessionTTL()); tokenErr == nil {
			h.setSessionCookie(c, token)
		} else {
			slog.Error("failed to issue session after registration", "user_id", user.ID, "error", tokenErr)
		}

		h.dispatchVerificationEmail(user, strings.TrimSpace(req.FullName))

		c.JSON(http.StatusCreated, gin.H{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		})
	}
}

// dispatchVerificationEmail stores a fresh verification token and mails it in
// the background. Failures are logged and never surface to the registration
// response.
func (h *Handlers) dispatchVerificationEmail(user *models.User, fullName string) {
	if h.mailer == nil || !h.mailer.Enabled() {
		return
	}

	raw, hash, err := tokenref.New()
	if err != nil {
		slog.Error("failed to generate verification token", "user_id", user.ID, "error", err)
		return
	}

	userID, email := user.ID, user.Email
	safego.GoNamed("verification-mail", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := h.userRepo.CreateEmailVerification(ctx, userID, hash, time.Now().Add(verificationTTL)); err != nil {
			slog.Error("failed to store verification token", "user_id", userID, "error", err)
			return
		}
		if err := h.mailer.SendVerificationEmail(email, fullName, raw); err != nil {
			slog.Warn("verification email dispatch failed", "user_id", userID, "error", err)
			return
		}
		telemetry.VerificationEmailsSentTotal.Inc()
	})
}

// @Summary      Log in
// @Description  Authenticates by email and password and sets the session cookie. Every failure returns the same 401 body.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "id, email, role"
// @Failure      401  {object}  map[string]interface{}  "Invalid email or password"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates an account
// POST /api/v1/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}

		deny := func() {
			telemetry.LoginsTotal.WithLabelValues("denied").Inc()
			h.record(c, "auth.login", "account", nil, models.AuditOutcomeDenied, nil)
			c.JSON(http.StatusUnauthorized, loginFailureBody)
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			deny()
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), email)
		if err != nil {
			slog.Error("login lookup failed", "error", err)
			deny()
			return
		}

		// Compare against the sentinel when the account is missing so both
		// failure paths do the same amount of work.
		storedHash := sentinelHash
		if user != nil {
			storedHash = user.PasswordHash
		}
		compareErr := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Password))
		if user == nil || compareErr != nil {
			deny()
			return
		}

		token, err := auth.Issue(user.ID, user.Role, h.sessionTTL())
		if err != nil {
			slog.Error("failed to issue session token", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
			return
		}
		h.setSessionCookie(c, token)

		telemetry.LoginsTotal.WithLabelValues("success").Inc()
		h.record(c, "auth.login", "account", &user.ID, models.AuditOutcomeSuccess, nil)

		c.JSON(http.StatusOK, gin.H{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		})
	}
}

// @Summary      Current session
// @Description  Returns the signed-in account, or user:null for anonymous callers. Always 200.
// @Tags         Accounts
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user: {...} | null"
// @Router       /api/v1/auth/me [get]
// MeHandler reports the current session
// GET /api/v1/auth/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := middleware.SessionFromContext(c)
		if session == nil {
			c.JSON(http.StatusOK, gin.H{"user": nil})
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), session.UserID)
		if err != nil || user == nil {
			// A session for a since-deleted account reads as anonymous.
			c.JSON(http.StatusOK, gin.H{"user": nil})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":            user.ID,
				"email":         user.Email,
				"role":          user.Role,
				"emailVerified": user.EmailVerified,
			},
		})
	}
}

// @Summary      Log out
// @Description  Clears the session cookie. The stateless token stays valid until expiry; logout only removes the browser credential.
// @Tags         Accounts
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: logged out"
// @Router       /api/v1/auth/logout [post]
// LogoutHandler clears the session cookie
// POST /api/v1/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.clearSessionCookie(c)
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}

// @Summary      Verify email address
// @Description  Redeems a mailed verification token. Single use; expired and unknown tokens get the same response.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: verified"
// @Failure      400  {object}  map[string]interface{}  "Invalid or expired verification token"
// @Router       /api/v1/auth/verify [post]
// VerifyEmailHandler redeems a verification token
// POST /api/v1/auth/verify
func (h *Handlers) VerifyEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification token"})
			return
		}

		userID, ok, err := h.userRepo.ConsumeEmailVerification(c.Request.Context(), tokenref.Hash(req.Token), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify email"})
			return
		}
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification token"})
			return
		}

		if err := h.userRepo.MarkEmailVerified(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify email"})
			return
		}

		h.record(c, "account.verify_email", "account", &userID, models.AuditOutcomeSuccess, nil)
		c.JSON(http.StatusOK, gin.H{"status": "verified"})
	}
}

// sessionTTL returns the configured session lifetime with the 6h default.
func (h *Handlers) sessionTTL() time.Duration {
	if h.cfg.Auth.SessionTTL > 0 {
		return h.cfg.Auth.SessionTTL
	}
	return 6 * time.Hour
}

// setSessionCookie installs the browser session credential: HTTP-only,
// SameSite=Lax, Secure in production, path "/".
func (h *Handlers) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Auth.CookieName, token, int(h.sessionTTL().Seconds()), "/", "", h.cfg.Server.IsProduction(), true)
}

// clearSessionCookie expires the session cookie immediately
func (h *Handlers) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Auth.CookieName, "", -1, "/", "", h.cfg.Server.IsProduction(), true)
}

// record appends a domain audit event and marks the request so the generic
// HTTP audit middleware does not double-log it.
func (h *Handlers) record(c *gin.Context, action, subjectType string, subjectID *string, outcome string, metadata map[string]interface{}) {
	ip := c.ClientIP()
	event := &models.AuditEvent{
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Outcome:     outcome,
		SourceIP:    &ip,
		Metadata:    metadata,
	}
	if v, ok := c.Get(middleware.ContextUserID); ok {
		if id, ok := v.(string); ok && id != "" {
			event.ActorID = &id
		}
	}
	if v, ok := c.Get(middleware.ContextRole); ok {
		if role, ok := v.(string); ok && role != "" {
			event.ActorRole = &role
		}
	}
	if v, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			event.RequestID = &id
		}
	}

	h.recorder.Record(c.Request.Context(), event)
	c.Set(middleware.ContextAuditRecorded, true)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
