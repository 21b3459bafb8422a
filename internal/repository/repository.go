package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// ConversationStore persists two-party conversations and their
// denormalised last-message summary.
type ConversationStore interface {
	FindByParticipants(ctx context.Context, participants []string) (*domain.Conversation, error)
	// FindOrCreate is atomic per unordered participant pair.
	FindOrCreate(ctx context.Context, participants []string) (*domain.Conversation, error)
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByParticipant(ctx context.Context, identity string) ([]*domain.Conversation, error)
	UpdateSummary(ctx context.Context, id, lastMessage string, lastMessageTime time.Time) error
}

// MessageStore is the append-only message log.
type MessageStore interface {
	// Append assigns an id and a server timestamp when they are missing.
	Append(ctx context.Context, m *domain.Message) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error)
	UpdateSenderProfile(ctx context.Context, sender, name, photo string) (int64, error)
}

// Now returns the current UTC time at millisecond precision, which is what
// the document store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
