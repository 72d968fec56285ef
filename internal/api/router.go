// Package api wires together all HTTP routes for the key server.
//
// Route grouping philosophy:
//   - Read routes (listing, fingerprint lookup, armored download) are public
//     and share a general rate limit. A key server's public material is meant
//     to be fetched anonymously.
//   - Write routes (import, generation) carry stricter per-route rate limits.
//     Generation in particular performs RSA-4096 key creation and must not be
//     an amplification vector.
package api

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	keysapi "github.com/riboseinc/keyserver/internal/api/keys"
	"github.com/riboseinc/keyserver/internal/config"
	"github.com/riboseinc/keyserver/internal/crypto"
	"github.com/riboseinc/keyserver/internal/db/repositories"
	keysvc "github.com/riboseinc/keyserver/internal/keys"
	"github.com/riboseinc/keyserver/internal/middleware"
	"github.com/riboseinc/keyserver/internal/pgp"
)

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible
// for calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize the secret cipher that seals private key material at rest
	cipher, err := newSecretCipher(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize secret cipher: %v", err)
	}

	// Wrap *sql.DB with sqlx for the key repository
	sqlxDB := sqlx.NewDb(db, "postgres")
	keyRepo := repositories.NewKeyRepository(sqlxDB)

	service := keysvc.NewService(keyRepo, pgp.NewGoCryptoToolkit(), cipher, slog.Default())
	keyHandlers := keysapi.NewHandler(service, cfg)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Initialize rate limiters. The general limiter honours configured
	// overrides; the import and generation limiters keep their stricter
	// built-in budgets.
	generalCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		generalCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		generalCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	generalRateLimiter := middleware.NewRateLimiter(generalCfg)
	importRateLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
	generateRateLimiter := middleware.NewRateLimiter(middleware.WriteRateLimitConfig())

	apiV1 := router.Group("/api/v1")
	{
		keysGroup := apiV1.Group("/keys")
		keysGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		{
			keysGroup.GET("", keyHandlers.ListKeys)
			keysGroup.GET("/:fingerprint", keyHandlers.ShowKey)

			// Stricter rate limits for material uploads and key generation
			keysGroup.POST("",
				middleware.RateLimitMiddleware(importRateLimiter),
				keyHandlers.ImportKey)
			keysGroup.POST("/generate",
				middleware.RateLimitMiddleware(generateRateLimiter),
				keyHandlers.GenerateKey)
		}
	}

	bg := &BackgroundServices{
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, importRateLimiter, generateRateLimiter},
	}

	return router, bg
}

// newSecretCipher builds the secret-material cipher from the preferred key
// source. ENCRYPTION_KEY takes precedence and must hold 64 hex characters;
// otherwise the key is derived from the configured passphrase and salt.
func newSecretCipher(cfg *config.Config) (*crypto.SecretCipher, error) {
	if raw := os.Getenv("ENCRYPTION_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be hex-encoded: %w", err)
		}
		return crypto.NewSecretCipher(key)
	}
	if cfg.SecretStore.Passphrase != "" {
		return crypto.DeriveSecretCipher(
			cfg.SecretStore.Passphrase,
			[]byte(cfg.SecretStore.Salt),
			cfg.SecretStore.Iterations,
		)
	}
	return nil, fmt.Errorf("no secret store key configured: set ENCRYPTION_KEY or secret_store.passphrase")
}

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

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

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
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
