// Package api wires together all HTTP routes for the docshield backend.
//
// Route grouping:
//   - /preview/:token is public. Possession of the token is the credential, so
//     the group is rate limited per client IP and every response carries
//     no-store and no-index headers.
//   - /api/v1/ always requires a bearer JWT and the scope named on each route.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/docshield/docshield/internal/api/admin"
	"github.com/docshield/docshield/internal/api/viewer"
	"github.com/docshield/docshield/internal/audit"
	"github.com/docshield/docshield/internal/auth"
	"github.com/docshield/docshield/internal/config"
	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/repositories"
	"github.com/docshield/docshield/internal/jobs"
	"github.com/docshield/docshield/internal/middleware"
	"github.com/docshield/docshield/internal/policy"
	"github.com/docshield/docshield/internal/preview"
	"github.com/docshield/docshield/internal/safego"
	"github.com/docshield/docshield/internal/storage"

	// Import storage backends to register them
	_ "github.com/docshield/docshield/internal/storage/azure"
	_ "github.com/docshield/docshield/internal/storage/gcs"
	_ "github.com/docshield/docshield/internal/storage/local"
	_ "github.com/docshield/docshield/internal/storage/s3"
)

// Version is reported by /version. It is overridden at build time with -ldflags.
var Version = "0.1.0"

// EncryptionKeyEnv names the variable holding the content master key.
const EncryptionKeyEnv = "ENCRYPTION_KEY"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	integrityVerifier *jobs.IntegrityVerifier
	rateLimiters      []*middleware.RateLimiter
	redisClient       *redis.Client
	auditService      *audit.Service
}

// Shutdown stops all background goroutines and drains queued audit writes.
// It should be called after the HTTP server has been shut down so that
// in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.integrityVerifier != nil {
		bg.integrityVerifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditService != nil {
		if err := bg.auditService.Close(); err != nil {
			slog.Error("failed to close audit service", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// loadCipher reads the content master key. A missing key is not fatal:
// documents whose policy requires encryption cannot receive content until one is set.
func loadCipher() (*crypto.Cipher, error) {
	raw := os.Getenv(EncryptionKeyEnv)
	if raw == "" {
		slog.Warn(EncryptionKeyEnv + " not set; content requiring encryption will be rejected")
		return nil, nil
	}
	key, err := crypto.ParseMasterKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EncryptionKeyEnv, err)
	}
	return crypto.NewCipher(key)
}

// newPreviewLimiter returns the limiter for the public preview route, or nil
// when rate limiting is disabled.
func newPreviewLimiter(cfg *config.Config, bg *BackgroundServices) middleware.Limiter {
	if !cfg.Preview.RateLimit.Enabled {
		return nil
	}
	rlCfg := middleware.PreviewRateLimitConfig()
	if cfg.Preview.RateLimit.RequestsPerMinute > 0 {
		rlCfg.RequestsPerMinute = cfg.Preview.RateLimit.RequestsPerMinute
	}
	if cfg.Preview.RateLimit.Burst > 0 {
		rlCfg.BurstSize = cfg.Preview.RateLimit.Burst
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup; preview rate limiting fails open until it recovers",
				"address", cfg.Redis.Address, "error", err)
		}
		bg.redisClient = client
		slog.Info("preview rate limiter: redis", "address", cfg.Redis.Address)
		return middleware.NewRedisLimiter(client, rlCfg, "docshield:preview")
	}

	rl := middleware.NewRateLimiter(rlCfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	slog.Info("preview rate limiter: in-memory")
	return rl
}

// NewRouter creates and configures the Gin router. policies is owned by the
// caller so the policy table can be hot-reloaded while the server runs.
func NewRouter(cfg *config.Config, db *sql.DB, policies *policy.Engine) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	// ClientIP feeds preview allowlists, so forwarding headers are honoured
	// only from configured proxies. An empty list means RemoteAddr only.
	if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return nil, nil, fmt.Errorf("invalid security.trusted_proxies: %w", err)
	}
	bg := &BackgroundServices{}

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	cipher, err := loadCipher()
	if err != nil {
		return nil, nil, err
	}

	// Initialize repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	documentRepo := repositories.NewDocumentRepository(sqlxDB)
	grantRepo := repositories.NewPreviewGrantRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(db)

	// Audit log: dead-letter fallback plus optional SIEM forwarder
	fallback, forwarder, err := audit.NewSinksFromConfig(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit sinks: %w", err)
	}
	auditService := audit.NewService(auditRepo, fallback, cfg.Audit)
	if forwarder != nil {
		auditService.SetForwarder(forwarder)
	}
	bg.auditService = auditService

	contentStore := content.NewStore(storageBackend, cipher, policies)
	previewService := preview.NewService(grantRepo, documentRepo, contentStore, policies, auditService, cfg.Preview.TokenPrefix)

	integrityVerifier := jobs.NewIntegrityVerifier(auditService, cfg.Audit.Verify)
	safego.Go("integrity-verifier", func() { integrityVerifier.Start(context.Background()) })
	bg.integrityVerifier = integrityVerifier

	storeTimeout := cfg.Server.StoreTimeout

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// API version
	router.GET("/version", versionHandler())

	// Public preview endpoint. The token is the only credential.
	previewGroup := router.Group("/preview")
	previewGroup.Use(middleware.SecurityHeadersMiddleware(middleware.PreviewSecurityHeadersConfig()))
	previewGroup.Use(middleware.PreviewHeadersMiddleware())
	if limiter := newPreviewLimiter(cfg, bg); limiter != nil {
		previewGroup.Use(middleware.RateLimitMiddleware(limiter))
	}
	{
		previewGroup.GET("/:token", viewer.NewHandler(previewService, storeTimeout).View)
	}

	documentHandlers := admin.NewDocumentHandlers(documentRepo, contentStore, policies, auditService, storeTimeout)
	previewHandlers := admin.NewPreviewHandlers(documentRepo, previewService, storeTimeout)
	auditHandlers := admin.NewAuditHandlers(auditService, storeTimeout)
	policyHandlers := admin.NewPolicyHandlers(policies)

	// Authenticated API
	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	apiV1.Use(middleware.AuthMiddleware())
	{
		documentsGroup := apiV1.Group("/documents/:collection/:slug")
		{
			documentsGroup.PUT("",
				middleware.RequireScope(auth.ScopeDocumentsWrite),
				documentHandlers.UpsertDocument)
			documentsGroup.PUT("/content",
				middleware.RequireScope(auth.ScopeDocumentsWrite),
				documentHandlers.UploadContent)
			documentsGroup.POST("/approve",
				middleware.RequireScope(auth.ScopeDocumentsApprove),
				documentHandlers.ApproveDocument)
			documentsGroup.POST("/reject",
				middleware.RequireScope(auth.ScopeDocumentsApprove),
				documentHandlers.RejectDocument)

			documentsGroup.POST("/previews",
				middleware.RequireScope(auth.ScopePreviewsCreate),
				previewHandlers.CreatePreview)
			documentsGroup.GET("/previews",
				middleware.RequireScope(auth.ScopePreviewsRead),
				previewHandlers.ListPreviews)
		}

		auditGroup := apiV1.Group("/audit")
		{
			auditGroup.GET("/resources/:type/:id", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.GetResourceHistory)
			auditGroup.GET("/search", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.SearchAuditLog)
			auditGroup.POST("/verify", middleware.RequireScope(auth.ScopeAuditVerify), auditHandlers.VerifyIntegrity)
		}

		apiV1.GET("/policies", middleware.RequireScope(auth.ScopeAuditRead), policyHandlers.GetPolicies)
	}

	return router, bg, nil
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
		if err := db.PingContext(c.Request.Context()); err != nil {
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
// @Description  Returns whether the service is ready to accept traffic. Checks database and blob storage connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a readiness gate fails when preview bodies cannot be read.
func readinessHandler(db *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe with a known-absent sentinel path. Exists() exercises
		// authentication and network connectivity without creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging. Preview tokens are replaced
// by their fingerprint before the path is logged.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if token := c.Param("token"); token != "" && c.FullPath() == "/preview/:token" {
			path = "/preview/" + crypto.Fingerprint(token)
		}
		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
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
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Session-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
