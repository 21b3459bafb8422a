package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

// Conn is one live bidirectional channel. Send must not block; Close must
// not call back into the Gateway.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

type MessagePublisher interface {
	PublishMessageSent(ctx context.Context, m *domain.Message) error
}

type PresenceMirror interface {
	MarkOnline(ctx context.Context, identity string) error
	MarkOffline(ctx context.Context, identity string) error
}

type Options struct {
	PersistTimeout time.Duration
	RatePerSecond  int
	Burst          int
	Publisher      MessagePublisher // optional
	Mirror         PresenceMirror   // optional
}

// Gateway binds live connections to identities and routes messaging events.
// It owns the presence registry; nothing else mutates it.
type Gateway struct {
	// presenceMu serialises registry mutations with their snapshot broadcast
	// so every connection sees snapshots in the same order.
	presenceMu sync.Mutex
	registry   *presence.Registry

	connsMu sync.RWMutex
	conns   map[string]Conn // handle -> conn

	convs repository.ConversationStore
	msgs  repository.MessageStore
	opts  Options
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewGateway(convs repository.ConversationStore, msgs repository.MessageStore, opts Options, log *zap.SugaredLogger) *Gateway {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.RatePerSecond
	}
	return &Gateway{
		registry: presence.NewRegistry(),
		conns:    make(map[string]Conn),
		convs:    convs,
		msgs:     msgs,
		opts:     opts,
		log:      log,
		now:      repository.Now,
	}
}

// Connect starts a session in the anonymous state. verified is the identity
// proven by a token at upgrade time, or empty.
func (g *Gateway) Connect(conn Conn, verified string) *Session {
	g.connsMu.Lock()
	g.conns[conn.ID()] = conn
	g.connsMu.Unlock()
	metrics.Connections.Inc()

	return &Session{
		gw:       g,
		conn:     conn,
		state:    stateAnonymous,
		verified: verified,
		limiter:  rate.NewLimiter(rate.Limit(g.opts.RatePerSecond), g.opts.Burst),
	}
}

// OnlineUsers returns the current presence snapshot.
func (g *Gateway) OnlineUsers() []string {
	return g.registry.Snapshot()
}

// IsOnline reports whether identity has a registered connection.
func (g *Gateway) IsOnline(identity string) bool {
	_, ok := g.registry.Lookup(identity)
	return ok
}

// CloseAll closes every live connection; used on shutdown.
func (g *Gateway) CloseAll() {
	g.connsMu.RLock()
	conns := make([]Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (g *Gateway) register(identity string, conn Conn) (replaced string) {
	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()
	// a connection holds at most one identity
	if old, ok := g.registry.Unregister(conn.ID()); ok && old != identity {
		replaced = old
	}
	g.registry.Register(identity, conn.ID())
	g.broadcastPresenceLocked()
	if replaced != "" {
		g.mirrorOffline(replaced)
	}
	g.mirrorOnline(identity)
	return replaced
}

func (g *Gateway) unregister(conn Conn) (string, bool) {
	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()
	identity, removed := g.registry.Unregister(conn.ID())
	if removed {
		g.broadcastPresenceLocked()
		g.mirrorOffline(identity)
	}
	return identity, removed
}

// Heartbeat renews the mirrored online status of the identity bound to conn.
// Called on every keepalive ping so the mirror entry outlives its ttl only
// while the connection does.
func (g *Gateway) Heartbeat(conn Conn) {
	if g.opts.Mirror == nil {
		return
	}
	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()
	if identity, ok := g.registry.IdentityOf(conn.ID()); ok {
		g.mirrorOnline(identity)
	}
}

func (g *Gateway) broadcastPresenceLocked() {
	snapshot := g.registry.Snapshot()
	metrics.OnlineIdentities.Set(float64(len(snapshot)))
	frame, err := encode(EventOnlineUsers, snapshot)
	if err != nil {
		g.log.Errorw("encode presence snapshot", "err", err)
		return
	}
	metrics.PresenceBroadcasts.Inc()

	g.connsMu.RLock()
	conns := make([]Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.RUnlock()
	for _, c := range conns {
		g.deliver(c, frame)
	}
}

// sendToIdentity forwards frame to the identity's live connection. A miss
// is a normal outcome.
func (g *Gateway) sendToIdentity(identity string, frame []byte) bool {
	handle, ok := g.registry.Lookup(identity)
	if !ok {
		return false
	}
	g.connsMu.RLock()
	c, ok := g.conns[handle]
	g.connsMu.RUnlock()
	if !ok {
		return false
	}
	return g.deliver(c, frame)
}

// deliver enqueues frame; a connection that cannot keep up is closed.
func (g *Gateway) deliver(c Conn, frame []byte) bool {
	if err := c.Send(frame); err != nil {
		if errors.Is(err, errSendBufferFull) {
			g.log.Warnw("closing slow connection", "conn", c.ID())
			_ = c.Close()
		}
		return false
	}
	return true
}

// checkMembership requires both ends of a send to take part in the
// conversation. Unknown conversations and outsiders yield ErrForbidden.
func (g *Gateway) checkMembership(ctx context.Context, conversationID, sender, receiver string) error {
	cctx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	defer cancel()
	conv, err := g.convs.FindByID(cctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: conversation %s not found", domain.ErrForbidden, conversationID)
	}
	if err != nil {
		return fmt.Errorf("%w: find conversation: %w", domain.ErrPersistence, err)
	}
	if !conv.HasParticipant(sender) || !conv.HasParticipant(receiver) {
		return fmt.Errorf("%w: %s and %s are not both in conversation %s", domain.ErrForbidden, sender, receiver, conversationID)
	}
	return nil
}

func (g *Gateway) appendMessage(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	actx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	defer cancel()
	saved, err := g.msgs.Append(actx, m)
	if err != nil {
		return nil, fmt.Errorf("%w: append message: %w", domain.ErrPersistence, err)
	}
	return saved, nil
}

func (g *Gateway) removeConn(conn Conn) {
	g.connsMu.Lock()
	_, ok := g.conns[conn.ID()]
	delete(g.conns, conn.ID())
	g.connsMu.Unlock()
	if ok {
		metrics.Connections.Dec()
	}
}

// mirror writes run under presenceMu so redis sees them in registry order.
func (g *Gateway) mirrorOnline(identity string) {
	if g.opts.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PersistTimeout)
	defer cancel()
	if err := g.opts.Mirror.MarkOnline(ctx, identity); err != nil {
		g.log.Warnw("presence mirror online", "identity", identity, "err", err)
	}
}

func (g *Gateway) mirrorOffline(identity string) {
	if g.opts.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PersistTimeout)
	defer cancel()
	if err := g.opts.Mirror.MarkOffline(ctx, identity); err != nil {
		g.log.Warnw("presence mirror offline", "identity", identity, "err", err)
	}
}

func (g *Gateway) publish(m *domain.Message) {
	if g.opts.Publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.opts.PersistTimeout)
		defer cancel()
		if err := g.opts.Publisher.PublishMessageSent(ctx, m); err != nil {
			g.log.Warnw("publish message.sent", "message", m.ID, "err", err)
		}
	}()
}
