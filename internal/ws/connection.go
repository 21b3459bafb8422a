package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type connConfig struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// Connection adapts a fiber websocket to Conn with a bounded send queue
// drained by writePump.
type Connection struct {
	id   string
	ws   *websocket.Conn
	cfg  connConfig
	send chan []byte
	done chan struct{}
	once sync.Once
	// closed when writePump has returned
	writerDone chan struct{}
	// called after each successful keepalive ping
	onPing func()
}

func newConnection(conn *websocket.Conn, cfg connConfig) *Connection {
	return &Connection{
		id:         uuid.NewString(),
		ws:         conn,
		cfg:        cfg,
		send:       make(chan []byte, cfg.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close signals both pumps to stop. Safe to call more than once.
func (c *Connection) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// readPump feeds frames to the session one at a time until the socket fails.
func (c *Connection) readPump(ctx context.Context, s *Session) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.Handle(ctx, data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteDeadline)); err != nil {
				c.Close()
				return
			}
			if c.onPing != nil {
				c.onPing()
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
