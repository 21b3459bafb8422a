package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"golang.org/x/time/rate"
)

type sessionState int

const (
	stateAnonymous sessionState = iota
	stateIdentified
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateAnonymous:
		return "anonymous"
	case stateIdentified:
		return "identified"
	case stateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the per-connection state machine. Handle and Close must be
// called from the connection's single read goroutine.
type Session struct {
	gw       *Gateway
	conn     Conn
	state    sessionState
	identity string
	verified string
	limiter  *rate.Limiter
}

func (s *Session) Identity() string { return s.identity }

// Handle processes one inbound frame to completion. Panics are contained
// to the frame that caused them.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.gw.log.Errorw("panic handling frame", "conn", s.conn.ID(), "panic", r)
		}
	}()
	if s.state == stateDisconnected {
		return
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.violation("malformed", EventError, "malformed frame")
		return
	}

	switch env.Event {
	case EventIdentityAnnounce:
		s.onAnnounce(env.Data)
	case EventSendMessage:
		s.onSendMessage(ctx, env.Data)
	case EventTyping:
		s.onTyping(env.Data, EventUserTyping)
	case EventStopTyping:
		s.onTyping(env.Data, EventUserStopTyping)
	default:
		s.violation("unknown_event", EventError, fmt.Sprintf("unknown event %q", env.Event))
	}
}

// Close moves the session to disconnected and releases its presence entry.
// Only an entry that still points at this connection is removed, so a stale
// connection replaced by a newer one does not trigger a broadcast.
func (s *Session) Close() {
	if s.state == stateDisconnected {
		return
	}
	s.state = stateDisconnected
	s.gw.removeConn(s.conn)
	identity, removed := s.gw.unregister(s.conn)
	if removed {
		s.gw.log.Debugw("identity offline", "identity", identity, "conn", s.conn.ID())
	}
}

func (s *Session) onAnnounce(data json.RawMessage) {
	var p announcePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.violation("malformed", EventError, "malformed identity-announce")
		return
	}
	identity := strings.TrimSpace(p.Identity)
	if identity == "" {
		s.violation("empty_identity", EventError, "identity required")
		return
	}
	if s.verified != "" && identity != s.verified {
		s.violation("identity_mismatch", EventError, "identity does not match token")
		return
	}

	replaced := s.gw.register(identity, s.conn)
	s.identity = identity
	s.state = stateIdentified
	s.gw.log.Debugw("identity online", "identity", identity, "conn", s.conn.ID(), "replaced", replaced)
}

func (s *Session) onSendMessage(ctx context.Context, data json.RawMessage) {
	if s.state != stateIdentified {
		metrics.Messages.WithLabelValues("rejected").Inc()
		s.violation("anonymous_send", EventMessageError, "identity not announced")
		return
	}
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		metrics.Messages.WithLabelValues("rejected").Inc()
		s.violation("malformed", EventMessageError, "malformed send-message")
		return
	}
	if p.Sender == "" {
		p.Sender = s.identity
	}
	if p.Sender != s.identity {
		metrics.Messages.WithLabelValues("rejected").Inc()
		s.violation("sender_mismatch", EventMessageError, "sender does not match announced identity")
		return
	}
	if p.ConversationID == "" || p.Receiver == "" {
		metrics.Messages.WithLabelValues("rejected").Inc()
		s.violation("missing_fields", EventMessageError, "conversationId and receiver are required")
		return
	}
	if !s.limiter.Allow() {
		metrics.Messages.WithLabelValues("rate_limited").Inc()
		s.reply(EventMessageError, errorPayload{Error: "rate limit exceeded"})
		return
	}

	g := s.gw
	if err := g.checkMembership(ctx, p.ConversationID, p.Sender, p.Receiver); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			metrics.Messages.WithLabelValues("rejected").Inc()
			s.violation("not_participant", EventMessageError, "sender and receiver must belong to the conversation")
			return
		}
		metrics.Messages.WithLabelValues("failed").Inc()
		g.log.Errorw("send message", "conversation", p.ConversationID, "sender", p.Sender, "err", err)
		s.reply(EventMessageError, errorPayload{Error: "failed to send message"})
		return
	}

	saved, err := g.appendMessage(ctx, &domain.Message{
		ConversationID: p.ConversationID,
		Sender:         p.Sender,
		Receiver:       p.Receiver,
		Message:        p.Message,
		SenderName:     p.SenderName,
		SenderPhoto:    p.SenderPhoto,
		Timestamp:      g.now(),
		Read:           false,
	})
	if err != nil {
		metrics.Messages.WithLabelValues("failed").Inc()
		g.log.Errorw("send message", "conversation", p.ConversationID, "sender", p.Sender, "err", err)
		s.reply(EventMessageError, errorPayload{Error: "failed to send message"})
		return
	}

	// the summary is denormalised; failing here never undoes the append
	sctx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	if err := g.convs.UpdateSummary(sctx, saved.ConversationID, saved.Message, saved.Timestamp); err != nil {
		g.log.Warnw("update conversation summary", "conversation", saved.ConversationID, "err", err)
	}
	cancel()

	if frame, err := encode(EventReceiveMessage, saved); err == nil {
		g.sendToIdentity(saved.Receiver, frame)
	}
	s.reply(EventMessageSent, saved)
	metrics.Messages.WithLabelValues("sent").Inc()

	g.publish(saved)
}

func (s *Session) onTyping(data json.RawMessage, out string) {
	if s.state != stateIdentified {
		metrics.ProtocolViolations.WithLabelValues("anonymous_typing").Inc()
		return
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Receiver == "" {
		return
	}
	if p.Sender != "" && p.Sender != s.identity {
		metrics.ProtocolViolations.WithLabelValues("sender_mismatch").Inc()
		return
	}
	if !s.limiter.Allow() {
		return
	}
	frame, err := encode(out, typingNotice{Sender: s.identity})
	if err != nil {
		return
	}
	s.gw.sendToIdentity(p.Receiver, frame)
}

// violation rejects a frame on this connection only.
func (s *Session) violation(reason, event, msg string) error {
	metrics.ProtocolViolations.WithLabelValues(reason).Inc()
	err := fmt.Errorf("%w: %s", domain.ErrProtocolViolation, msg)
	s.gw.log.Debugw("rejected frame", "conn", s.conn.ID(), "identity", s.identity, "reason", reason, "err", err)
	s.reply(event, errorPayload{Error: msg})
	return err
}

func (s *Session) reply(event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		s.gw.log.Errorw("encode reply", "event", event, "err", err)
		return
	}
	s.gw.deliver(s.conn, frame)
}
