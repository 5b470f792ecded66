// Package httpapi exposes the issuance engine over HTTP.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"xdao.co/certledger/issuance"
	"xdao.co/certledger/token"
)

// Options configures a Server. The zero value is usable.
type Options struct {
	// Tokens enables POST /v1/verify. Nil disables it.
	Tokens *token.Service
	Logger *slog.Logger
	// BodyLimit caps request bodies in bytes. Zero selects fiber's default.
	BodyLimit int
}

// Server is the HTTP gateway in front of an issuance engine
type Server struct {
	app    *fiber.App
	engine *issuance.Engine
	tokens *token.Service
	log    *slog.Logger
}

// New creates a gateway serving engine
func New(engine *issuance.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{engine: engine, tokens: opts.Tokens, log: opts.Logger}

	s.app = fiber.New(fiber.Config{
		AppName:               "certledger",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.accessLog)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "program_id": s.engine.ProgramID().String()})
	})

	v1 := s.app.Group("/v1")
	v1.Post("/certificates", s.issue)
	v1.Get("/certificates", s.list)
	v1.Get("/certificates/:address", s.fetch)
	v1.Get("/addresses", s.status)
	v1.Post("/verify", s.verify)
}

// App returns the underlying fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info("http gateway listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		// The error handler has not run yet; report the status it will choose.
		status = statusFor(err)
	}
	s.log.Info("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"request_id", requestID(c),
		"duration", time.Since(start))
	return err
}

func requestID(c *fiber.Ctx) string {
	if v, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		return v
	}
	return ""
}
