// Package api provides the HTTP API for the Passify server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/api/handlers"
	"github.com/passifypro/passify/internal/api/middleware"
	"github.com/passifypro/passify/internal/config"
	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/vault"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// APIKeys lists the authorized actors.
	APIKeys []config.APIKeyEntry
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	store *db.Store,
	credVault *vault.Vault,
	pipeline handlers.OrderPipeline,
	redeemer handlers.Redeemer,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Public endpoints
	healthHandler := handlers.NewHealthHandler(store, credVault, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes (API key required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.APIKeyAuth(cfg.APIKeys, logger))

	// Operator-only: credential custody and issuance.
	operator := apiV1.Group("")
	operator.Use(middleware.RequireRole(config.RoleOperator))

	credentialHandler := handlers.NewCredentialHandler(credVault, logger)
	credentialHandler.RegisterRoutes(operator)

	passesHandler := handlers.NewPassesHandler(pipeline, store, logger)
	passesHandler.RegisterRoutes(operator)

	// Redemption desk: redeemer role (operators pass too).
	desk := apiV1.Group("")
	desk.Use(middleware.RequireRole(config.RoleRedeemer))

	redemptionsHandler := handlers.NewRedemptionsHandler(redeemer, store, logger)
	redemptionsHandler.RegisterRoutes(desk)

	return r, nil
}
