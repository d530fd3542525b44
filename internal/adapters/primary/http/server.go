package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"rag-ingest/config"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
)

// AppConfig configures the fiber application around a Handler
type AppConfig struct {
	Server           config.ServerConfig
	Security         config.SecurityConfig
	EnableStackTrace bool
	Logger           *logger.Logger
	Metrics          *metrics.Metrics
}

// NewApp builds the fiber application with middleware and routes
func NewApp(h *Handler, cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "rag-ingest",
		ErrorHandler: ErrorHandler(cfg.Logger),
		BodyLimit:    int(cfg.Security.MaxRequestBodySize),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.EnableStackTrace,
	}))
	app.Use(requestid.New())
	app.Use(RequestLogger(cfg.Logger, cfg.Metrics))

	if cfg.Security.RateLimitEnabled && cfg.Security.RateLimitPerMinute > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Security.RateLimitPerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return apperrors.NewRateLimitError("rate limit exceeded")
			},
		}))
	}

	if cfg.Security.CorsEnabled {
		origins := "*"
		if len(cfg.Security.CorsAllowedOrigins) > 0 {
			origins = strings.Join(cfg.Security.CorsAllowedOrigins, ",")
		}
		app.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID," + UserIDHeader,
		}))
	}

	h.SetupRoutes(app)
	return app
}
