package kafka

import (
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const EventMessageSent = "message.sent"

// MessageSentEvent is published after a message is persisted.
type MessageSentEvent struct {
	Event      string         `json:"event"`
	Message    domain.Message `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ProfileUpdatedEvent is emitted by the user service when a profile changes.
type ProfileUpdatedEvent struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
}
