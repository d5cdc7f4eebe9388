// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/numerator"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/http/v1/middleware"
	"pharmapos/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// JWTValidator validates bearer tokens. Nil selects header-based
	// operator identification for local development.
	JWTValidator middleware.JWTValidator

	Returns   *returns.Service
	Allocator numerator.Allocator
	// Numbering supplies allocator settings per prefix.
	Numbering func(prefix string) numerator.Config

	// Idempotency enables response replay for mutating requests when set.
	Idempotency middleware.IdempotencyStore

	Health *handlers.HealthHandler
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Order matters: ErrorHandler must sit outside Recovery to render panics.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	if cfg.Health != nil {
		health := router.Group("/health")
		health.GET("/live", cfg.Health.Live)
		health.GET("/ready", cfg.Health.Ready)
		health.GET("/info", cfg.Health.Info)
	}

	api := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		api.Use(middleware.Auth(cfg.JWTValidator))
	} else {
		api.Use(middleware.DevAuth())
	}
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()

	if cfg.Returns != nil {
		handlers.NewReturnsHandler(base, cfg.Returns).RegisterRoutes(api.Group("/sales"))
	}

	if cfg.Allocator != nil {
		seq := handlers.NewSequenceHandler(base, cfg.Allocator, cfg.Numbering)
		api.POST("/sequences/:prefix/allocate", seq.Allocate)
	}

	return router
}
