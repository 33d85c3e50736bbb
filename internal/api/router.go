// Package api wires together all HTTP routes for the recommendation-letter
// platform backend.
//
// Route grouping philosophy:
//   - Link consumption (/api/v1/letters/:token) is intentionally
//     unauthenticated. The single-use token IS the credential; requiring a
//     session would defeat the point of handing a recommendation link to an
//     external reviewer.
//   - Everything under /api/v1 that touches accounts, requests, or link
//     management requires a session cookie and the appropriate role.
//   - Auth endpoints carry a stricter rate limit than the rest of the API;
//     link consumption carries its own, stricter still, to slow token
//     guessing.
package api

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/readmystudent/readmystudent/internal/api/accounts"
	instapi "github.com/readmystudent/readmystudent/internal/api/institutions"
	"github.com/readmystudent/readmystudent/internal/api/links"
	"github.com/readmystudent/readmystudent/internal/api/requests"
	"github.com/readmystudent/readmystudent/internal/audit"
	"github.com/readmystudent/readmystudent/internal/auth"
	"github.com/readmystudent/readmystudent/internal/config"
	"github.com/readmystudent/readmystudent/internal/crypto"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/institutions"
	"github.com/readmystudent/readmystudent/internal/jobs"
	"github.com/readmystudent/readmystudent/internal/middleware"
	"github.com/readmystudent/readmystudent/internal/services"
	"github.com/readmystudent/readmystudent/internal/storage"

	// Import storage backends to register them
	_ "github.com/readmystudent/readmystudent/internal/storage/azure"
	_ "github.com/readmystudent/readmystudent/internal/storage/gcs"
	_ "github.com/readmystudent/readmystudent/internal/storage/local"
	_ "github.com/readmystudent/readmystudent/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	expirySweeper *jobs.LinkExpirySweeper
	auditShipper  *audit.MultiShipper
	rateLimiters  []*middleware.RateLimiter
	redisClient   *redis.Client
}

// Shutdown stops all background goroutines and closes shared resources. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expirySweeper != nil {
		bg.expirySweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Letter archive backend is optional: no configured backend means letters
	// live only in the database.
	var archiveBackend storage.Storage
	if cfg.Storage.DefaultBackend != "" {
		backend, err := storage.NewStorage(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize archive storage backend: %v", err)
		}
		archiveBackend = backend
		slog.Info("archive storage backend initialized", "backend", cfg.Storage.DefaultBackend)
	}

	letterCipher, err := crypto.NewLetterCipherFromHex(cfg.Storage.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize letter cipher: %v", err)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Wrap *sql.DB with sqlx for the request and link repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	requestRepo := repositories.NewRequestRepository(sqlxDB)
	linkRepo := repositories.NewLinkRepository(sqlxDB)

	// Audit pipeline: events are stored in Postgres and optionally shipped to
	// external compliance sinks.
	auditShipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	recorder := audit.NewRecorder(auditRepo, auditShipper, cfg.Audit.Enabled)

	// Optional shared Redis for the institution cache and distributed rate
	// limiting
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Institution lookup proxy: upstream client + cache-first service
	upstream := institutions.NewUpstreamClient(
		cfg.Institutions.UpstreamURL,
		cfg.Institutions.Mailto,
		cfg.Institutions.PerPage,
		cfg.Institutions.UpstreamTimeout,
	)
	var instCache institutions.CacheStore
	if redisClient != nil {
		instCache = institutions.NewRedisStore(redisClient)
	} else {
		instCache = institutions.NewMemoryStore()
	}
	instService := institutions.NewService(upstream, instCache, cfg.Institutions.MinQueryLen, cfg.Institutions.CacheTTL)

	archiver := services.NewLetterArchiver(archiveBackend, letterCipher, requestRepo)
	mailer := services.NewMailer(&cfg.Notifications)
	eligibility := auth.NewDomainSuffixChecker(cfg.Auth.AcademicSuffixes)

	// Initialize handlers
	accountHandlers := accounts.NewHandlers(cfg, userRepo, eligibility, recorder, mailer)
	ssoHandlers, err := accounts.NewSSOHandlers(cfg, userRepo, recorder)
	if err != nil {
		log.Fatalf("Failed to initialize SSO handlers: %v", err)
	}
	linkHandlers := links.NewHandlers(cfg, linkRepo, requestRepo, userRepo, archiver, letterCipher, recorder, mailer)
	requestHandlers := requests.NewHandlers(cfg, requestRepo, userRepo, archiver, letterCipher, recorder)
	institutionHandlers := instapi.NewHandlers(instService)

	// Start the link expiry sweep; redemption correctness never depends on it,
	// the sweep just keeps the stored states tidy.
	expirySweeper := jobs.NewLinkExpirySweeper(linkRepo, cfg.Links.ExpirySweepInterval)
	expirySweeper.Start(context.Background())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes archive backend probe)
	router.GET("/ready", readinessHandler(db, archiveBackend))

	// API version
	router.GET("/version", versionHandler())

	// Prometheus metrics
	if cfg.Telemetry.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Initialize rate limiters
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	consumeRateLimiter := middleware.NewRateLimiter(middleware.ConsumeRateLimitConfig())
	institutionRateLimiter := middleware.NewRateLimiter(
		middleware.InstitutionRateLimitConfig(cfg.Institutions.RatePerMinute, cfg.Institutions.RateBurst))

	// The institution proxy budget is shared across replicas when Redis is
	// available; each replica otherwise enforces its own bucket.
	institutionRateLimit := middleware.RateLimitMiddleware(institutionRateLimiter)
	if redisClient != nil {
		institutionRateLimit = middleware.RedisRateLimitMiddleware(redisClient,
			middleware.InstitutionRateLimitConfig(cfg.Institutions.RatePerMinute, cfg.Institutions.RateBurst))
	}

	apiV1 := router.Group("/api/v1")
	{
		// Account endpoints (no session required, strict rate limit)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(authRateLimiter))
		{
			authGroup.POST("/register", accountHandlers.RegisterHandler())
			authGroup.POST("/login", accountHandlers.LoginHandler())
			authGroup.POST("/logout", accountHandlers.LogoutHandler())
			authGroup.POST("/verify", accountHandlers.VerifyEmailHandler())
			authGroup.GET("/me", middleware.OptionalSessionMiddleware(cfg), accountHandlers.MeHandler())

			if ssoHandlers != nil {
				authGroup.GET("/sso/login", ssoHandlers.LoginHandler())
				authGroup.GET("/sso/callback", ssoHandlers.CallbackHandler())
			}
		}

		// Institution lookup proxy (no session required; every request costs a
		// token, cache hits included)
		institutionGroup := apiV1.Group("/institutions")
		institutionGroup.Use(institutionRateLimit)
		{
			institutionGroup.GET("", institutionHandlers.SearchHandler())
			institutionGroup.GET("/programs", institutionHandlers.ProgramsHandler())
		}

		// Link consumption: the token is the credential. A session, when
		// present, only enriches the audit trail with the viewer's identity.
		consumeGroup := apiV1.Group("/letters")
		consumeGroup.Use(middleware.RateLimitMiddleware(consumeRateLimiter))
		consumeGroup.Use(middleware.OptionalSessionMiddleware(cfg))
		consumeGroup.Use(middleware.AuditMiddleware(recorder, &cfg.Audit))
		{
			consumeGroup.GET("/:token", linkHandlers.ConsumeHandler())
		}

		// Session-holding endpoints; every action lands in the audit trail
		sessionGroup := apiV1.Group("")
		sessionGroup.Use(middleware.SessionMiddleware(cfg))
		sessionGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		sessionGroup.Use(middleware.AuditMiddleware(recorder, &cfg.Audit))
		{
			// Requests: creation and letter viewing are student actions, the
			// drafting side belongs to faculty, listing serves both roles.
			requestsGroup := sessionGroup.Group("/requests")
			{
				requestsGroup.POST("", middleware.RequireRole(models.RoleStudent), requestHandlers.CreateHandler())
				requestsGroup.GET("", requestHandlers.ListHandler())
				requestsGroup.GET("/:id/letter", middleware.RequireRole(models.RoleStudent), requestHandlers.LetterHandler())

				requestsGroup.POST("/:id/accept", middleware.RequireRole(models.RoleFaculty), requestHandlers.AcceptHandler())
				requestsGroup.POST("/:id/decline", middleware.RequireRole(models.RoleFaculty), requestHandlers.DeclineHandler())
				requestsGroup.PUT("/:id/draft", middleware.RequireRole(models.RoleFaculty), requestHandlers.DraftHandler())
				requestsGroup.POST("/:id/finalize", middleware.RequireRole(models.RoleFaculty), requestHandlers.FinalizeHandler())
			}

			// Link management is student-only; consumption lives above,
			// outside the session wall.
			linksGroup := sessionGroup.Group("/links")
			linksGroup.Use(middleware.RequireRole(models.RoleStudent))
			{
				linksGroup.POST("", linkHandlers.GenerateHandler())
				linksGroup.GET("", linkHandlers.ListHandler())
				linksGroup.GET("/:id/audit", linkHandlers.AuditTrailHandler(auditRepo))
				linksGroup.POST("/:id/revoke", linkHandlers.RevokeHandler())
			}
		}
	}

	bg := &BackgroundServices{
		expirySweeper: expirySweeper,
		auditShipper:  auditShipper,
		rateLimiters: []*middleware.RateLimiter{
			authRateLimiter, generalRateLimiter, consumeRateLimiter, institutionRateLimiter,
		},
		redisClient: redisClient,
	}

	return router, bg
}

// shipperConfigs maps the audit shipper configuration into the audit package's
// own config shape.
func shipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{
			Enabled: c.Enabled,
			Type:    c.Type,
		}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity and, when configured, the letter archive backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the archive backend so
// that a Kubernetes readiness gate fails when letter archival would error.
func readinessHandler(db *sql.DB, archiveBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check archive backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if archiveBackend != nil {
			if _, err := archiveBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID := c.GetString(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
