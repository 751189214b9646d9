package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faultline/internal/config"
	"faultline/internal/ingest"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	logger *slog.Logger

	// Handlers
	captureHandler *CaptureHandler
	statsHandler   *StatsHandler
	groupHandler   *GroupHandler

	capturer     ingest.Capturer
	healthChecks map[string]HealthCheck
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config         *config.ServerConfig
	Logger         *slog.Logger
	CaptureHandler *CaptureHandler
	StatsHandler   *StatsHandler
	GroupHandler   *GroupHandler

	// Capturer records the server's own failures.
	Capturer ingest.Capturer

	// HealthChecks are run by /healthz, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		// Captured request data outlives the handler.
		Immutable:    true,
		ReadTimeout:  deps.Config.ReadTimeout,
		WriteTimeout: deps.Config.WriteTimeout,
		IdleTimeout:  deps.Config.IdleTimeout,
		ErrorHandler: customErrorHandler,
	})

	s := &Server{
		app:            app,
		config:         deps.Config,
		logger:         deps.Logger,
		captureHandler: deps.CaptureHandler,
		statsHandler:   deps.StatsHandler,
		groupHandler:   deps.GroupHandler,
		capturer:       deps.Capturer,
		healthChecks:   deps.HealthChecks,
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.New())

	if s.capturer != nil {
		s.app.Use(CaptureErrors(s.capturer, "api"))
	}

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.healthCheck)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")

	v1.Post("/errors", s.captureHandler.Capture)
	v1.Get("/stats", s.statsHandler.GetStats)
	v1.Post("/flush", s.statsHandler.Flush)

	v1.Get("/groups", s.groupHandler.List)
	v1.Get("/groups/:id", s.groupHandler.GetByID)
	v1.Patch("/groups/:id", s.groupHandler.UpdateStatus)
	v1.Delete("/groups/:id", s.groupHandler.Delete)
}

// healthCheck returns the health status of the service and its stores.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	checks := make(map[string]string, len(s.healthChecks))
	healthy := true
	for name, check := range s.healthChecks {
		if err := check(c.UserContext()); err != nil {
			s.logger.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	if !healthy {
		body["status"] = "unhealthy"
		return c.Status(fiber.StatusServiceUnavailable).JSON(APIResponse{Success: false, Data: body})
	}
	return Success(c, body)
}

// App returns the underlying fiber app, for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		code := ErrCodeInternalError
		switch {
		case e.Code == fiber.StatusNotFound:
			code = ErrCodeNotFound
		case e.Code < fiber.StatusInternalServerError:
			code = ErrCodeBadRequest
		}
		return Error(c, e.Code, code, e.Message)
	}
	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}
