// sso.go implements the institutional OIDC sign-in flow for faculty. The
// callback matches the IdP identity to an existing FACULTY account by email;
// there is no silent account creation.
package accounts

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/auth"
	"github.com/readmystudent/readmystudent/internal/auth/oidc"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/telemetry"
)

// ssoStateTTL bounds how long a login attempt may sit between redirect and
// callback before the state nonce is rejected.
const ssoStateTTL = 5 * time.Minute

// SSOHandlers handles the institutional sign-in endpoints
type SSOHandlers struct {
	cfg      *config.Config
	userRepo *repositories.UserRepository
	recorder *audit.Recorder
	provider *oidc.SSOProvider

	// In-memory state store; sufficient for a single instance. Multi-instance
	// deployments should pin SSO callbacks to the issuing instance.
	mu     sync.Mutex
	states map[string]time.Time
}

// NewSSOHandlers creates the SSO handlers. Returns nil without error when SSO
// is not configured; the router skips the routes in that case.
func NewSSOHandlers(cfg *config.Config, userRepo *repositories.UserRepository, recorder *audit.Recorder) (*SSOHandlers, error) {
	if !cfg.Auth.SSO.Enabled {
		return nil, nil
	}

	ssoCfg := cfg.Auth.SSO
	if ssoCfg.RedirectURL == "" {
		ssoCfg.RedirectURL = fmt.Sprintf("%s/api/v1/auth/sso/callback", strings.TrimRight(cfg.Server.GetPublicURL(), "/"))
	}

	provider, err := oidc.NewSSOProvider(&ssoCfg)
	if err != nil {
		return nil, err
	}

	return &SSOHandlers{
		cfg:      cfg,
		userRepo: userRepo,
		recorder: recorder,
		provider: provider,
		states:   make(map[string]time.Time),
	}, nil
}

// generateState generates a random state nonce for the OAuth round trip
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *SSOHandlers) storeState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Evict anything past the TTL while we hold the lock.
	cutoff := time.Now().Add(-ssoStateTTL)
	for s, created := range h.states {
		if created.Before(cutoff) {
			delete(h.states, s)
		}
	}
	h.states[state] = time.Now()
}

// takeState removes and validates a state nonce, preventing reuse
func (h *SSOHandlers) takeState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	created, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Since(created) <= ssoStateTTL
}

// @Summary      Start institutional sign-in
// @Description  Redirects the browser to the configured university identity provider.
// @Tags         Accounts
// @Success      302  {object}  string  "Redirect to the IdP authorization URL"
// @Router       /api/v1/auth/sso/login [get]
// LoginHandler begins the OIDC authorization-code flow
// GET /api/v1/auth/sso/login
func (h *SSOHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := generateState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
			return
		}
		h.storeState(state)
		c.Redirect(http.StatusFound, h.provider.GetAuthURL(state))
	}
}

// @Summary      Institutional sign-in callback
// @Description  Exchanges the authorization code, verifies the ID token, and signs in the matching FACULTY account. Unknown or non-faculty identities are rejected without creating an account.
// @Tags         Accounts
// @Success      302  {object}  string  "Redirect to the application with the session cookie set"
// @Failure      400  {object}  map[string]interface{}  "State or code problems"
// @Failure      403  {object}  map[string]interface{}  "No matching faculty account"
// @Router       /api/v1/auth/sso/callback [get]
// CallbackHandler completes the OIDC flow
// GET /api/v1/auth/sso/callback?code=...&state=...
func (h *SSOHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.takeState(c.Query("state")) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired sign-in state. Please try again."})
			return
		}

		ctx := c.Request.Context()

		token, err := h.provider.ExchangeCode(ctx, c.Query("code"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to exchange authorization code."})
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "The identity provider did not return an ID token."})
			return
		}

		idToken, err := h.provider.VerifyIDToken(ctx, rawIDToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "The ID token could not be verified."})
			return
		}

		_, email, _, err := h.provider.ExtractUserInfo(idToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to extract identity from the ID token."})
			return
		}

		user, err := h.userRepo.GetUserByEmail(ctx, strings.ToLower(email))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account."})
			return
		}
		if user == nil || !user.IsFaculty() {
			// One denial for both "no account" and "not faculty": the IdP
			// attested the email, but this system still only signs in
			// accounts that already exist with the faculty role.
			h.recordSSO(c, nil, models.AuditOutcomeDenied)
			telemetry.LoginsTotal.WithLabelValues("denied").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "No faculty account is registered for this identity."})
			return
		}

		sessionToken, err := auth.Issue(user.ID, user.Role, h.cfg.Auth.SessionTTL)
		if err != nil {
			slog.Error("failed to issue session after SSO sign-in", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cfg.Auth.CookieName, sessionToken, int(h.cfg.Auth.SessionTTL.Seconds()), "/", "", h.cfg.Server.IsProduction(), true)

		h.recordSSO(c, &user.ID, models.AuditOutcomeSuccess)
		telemetry.LoginsTotal.WithLabelValues("success").Inc()

		c.Redirect(http.StatusFound, h.postLoginURL())
	}
}

// postLoginURL is where the browser lands after a successful SSO sign-in
func (h *SSOHandlers) postLoginURL() string {
	base := strings.TrimRight(h.cfg.Server.GetPublicURL(), "/")
	if base == "" {
		base = "/"
	}
	return base
}

// recordSSO appends an audit event for an SSO sign-in attempt
func (h *SSOHandlers) recordSSO(c *gin.Context, userID *string, outcome string) {
	ip := c.ClientIP()
	issuer := h.cfg.Auth.SSO.IssuerURL
	h.recorder.Record(c.Request.Context(), &models.AuditEvent{
		Action:      "auth.sso_login",
		SubjectType: "account",
		SubjectID:   userID,
		ActorID:     userID,
		Outcome:     outcome,
		SourceIP:    &ip,
		Metadata:    map[string]interface{}{"issuer": issuer},
	})
}
