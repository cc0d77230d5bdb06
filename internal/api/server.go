package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/travel-sense/server/internal/agent/graph"
	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/catalog"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

type Config struct {
	Host          string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port          int    `envconfig:"HTTP_PORT" default:"8080"`
	DefaultUserID string `envconfig:"HTTP_DEFAULT_USER_ID" default:"guest"`
	CORSOrigins   string `envconfig:"HTTP_CORS_ORIGINS" default:"*"`
	BodyLimitMB   int    `envconfig:"HTTP_BODY_LIMIT_MB" default:"25"`
}

// HistoryClearer drops the model-facing message log of a conversation.
type HistoryClearer interface {
	ClearHistory(ctx context.Context, conversationID string) error
}

// Deps are the services the handlers call into. History and Transcriber may be nil.
type Deps struct {
	Runner      graph.Runner
	Chats       model.ChatStore
	History     HistoryClearer
	Catalog     *catalog.Catalog
	Transcriber Transcriber
}

type Server struct {
	cfg  Config
	deps Deps
	app  *fiber.App
	now  func() time.Time
}

func New(cfg Config, deps Deps) *Server {
	limit := cfg.BodyLimitMB
	if limit <= 0 {
		limit = 25
	}
	app := fiber.New(fiber.Config{
		AppName:               "travel-sense",
		DisableStartupMessage: true,
		BodyLimit:             limit * 1024 * 1024,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization," + userHeader,
	}))
	app.Use(requestLogger())

	s := &Server{cfg: cfg, deps: deps, app: app, now: time.Now}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	s.app.Get("/api/data/:type.json", s.handleData)
	s.app.Post("/transcribe", s.handleTranscribe)

	chat := s.app.Group("", s.session)
	chat.Post("/new_chat", s.handleNewChat)
	chat.Post("/handle_user_query", s.handleUserQuery)
	chat.Get("/get_chat_conversation", s.handleGetChatConversation)
	chat.Get("/get_chat_history", s.handleGetChatHistory)
	chat.Post("/delete_chat", s.handleDeleteChat)
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	logx.Info().Str("addr", addr).Msg("Starting HTTP server")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := errx.StatusOf(err)
	msg := errx.SystemErrorMessage
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status, msg = fe.Code, fe.Message
	}
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	if status >= fiber.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"status": false, "msg": msg})
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logx.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}
