package ws

import (
	"context"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const localIdentity = "identity"

// IdentityVerifier turns an opaque token into an identity.
type IdentityVerifier interface {
	Validate(token string) (string, error)
}

type ServerConfig struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RequireToken   bool
}

// Server is the fiber websocket front of the Gateway.
type Server struct {
	gw  *Gateway
	jv  IdentityVerifier
	cfg ServerConfig
	log *zap.SugaredLogger
	ctx context.Context
}

// NewServer builds the transport. ctx is cancelled on shutdown and bounds
// all in-flight frame handling.
func NewServer(ctx context.Context, gw *Gateway, jv IdentityVerifier, cfg ServerConfig, log *zap.SugaredLogger) *Server {
	return &Server{gw: gw, jv: jv, cfg: cfg, log: log, ctx: ctx}
}

// Upgrade rejects non-websocket requests and verifies an optional token
// from ?token= or the Authorization header. A token that is present but
// invalid is refused before the upgrade.
func (s *Server) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			if h := c.Get(fiber.HeaderAuthorization); h != "" {
				t, err := auth.ParseBearerToken(h)
				if err != nil {
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
				}
				token = t
			}
		}
		if token == "" {
			if s.cfg.RequireToken {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token required"})
			}
			return c.Next()
		}
		identity, err := s.jv.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(localIdentity, identity)
		return c.Next()
	}
}

// Handler serves one websocket for its whole lifetime.
func (s *Server) Handler() fiber.Handler {
	return websocket.New(s.serve)
}

func (s *Server) serve(c *websocket.Conn) {
	verified, _ := c.Locals(localIdentity).(string)
	conn := newConnection(c, connConfig{
		PingInterval:   s.cfg.PingInterval,
		WriteDeadline:  s.cfg.WriteDeadline,
		PongWait:       s.cfg.PongWait,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendBuffer:     s.cfg.SendBuffer,
	})
	conn.onPing = func() { s.gw.Heartbeat(conn) }
	sess := s.gw.Connect(conn, verified)
	s.log.Debugw("ws connected", "conn", conn.ID(), "verified", verified)

	go conn.writePump()
	conn.readPump(s.ctx, sess)

	sess.Close()
	_ = conn.Close()
	<-conn.writerDone
	s.log.Debugw("ws disconnected", "conn", conn.ID(), "identity", sess.Identity())
}
