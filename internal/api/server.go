package api

import (
	"context"
	"errors"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// PresenceReader serves the mirrored presence status of one identity.
type PresenceReader interface {
	Get(ctx context.Context, identity string) (presence.Status, error)
}

type Deps struct {
	Conversations *service.ConversationService
	Gateway       *ws.Gateway
	WS            *ws.Server
	Verifier      Verifier
	Presence      PresenceReader // optional
	RateLimiter   *RateLimiter   // optional
	RequestLog    bool
	Log           *zap.SugaredLogger
}

type Server struct {
	conv     *service.ConversationService
	gw       *ws.Gateway
	presence PresenceReader
	log      *zap.SugaredLogger
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(d.Log),
	})
	app.Use(recover.New())
	if d.RequestLog {
		app.Use(logger.New())
	}
	s := &Server{conv: d.Conversations, gw: d.Gateway, presence: d.Presence, log: d.Log}

	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("Server is Running") })
	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	app.Get("/online-users", s.onlineUsers)
	app.Get("/presence/:identity", s.presenceOf)

	app.Get("/ws", d.WS.Upgrade(), d.WS.Handler())

	authed := []fiber.Handler{JWTAuth(d.Verifier)}
	if d.RateLimiter != nil {
		authed = append(authed, d.RateLimiter.Middleware())
	}
	route := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, authed...), h)
	}
	app.Get("/conversations", route(s.listConversations)...)
	app.Post("/conversations", route(s.openConversation)...)
	app.Get("/messages/:conversationId", route(s.listMessages)...)

	return app
}

func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal error"

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			code, msg = fe.Code, fe.Message
		case errors.Is(err, domain.ErrNotFound):
			code, msg = fiber.StatusNotFound, err.Error()
		case errors.Is(err, domain.ErrInvalidParticipants):
			code, msg = fiber.StatusBadRequest, err.Error()
		case errors.Is(err, domain.ErrForbidden):
			code, msg = fiber.StatusForbidden, err.Error()
		case errors.Is(err, domain.ErrUnauthenticated):
			code, msg = fiber.StatusUnauthorized, err.Error()
		}
		if code >= fiber.StatusInternalServerError {
			log.Errorw("request failed", "path", c.Path(), "err", err)
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
