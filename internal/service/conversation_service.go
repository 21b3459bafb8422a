package service

import (
	"context"
	"fmt"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/repository"
)

// ConversationService backs the HTTP surface. The caller identity always
// comes from a verified token.
type ConversationService struct {
	convs repository.ConversationStore
	msgs  repository.MessageStore
}

func NewConversationService(c repository.ConversationStore, m repository.MessageStore) *ConversationService {
	return &ConversationService{convs: c, msgs: m}
}

// Open finds or creates the conversation between the given pair. The caller
// must be one of the two participants.
func (s *ConversationService) Open(ctx context.Context, caller string, participants []string) (*domain.Conversation, error) {
	ps, _, err := domain.NormalizeParticipants(participants)
	if err != nil {
		return nil, err
	}
	if ps[0] != caller && ps[1] != caller {
		return nil, fmt.Errorf("%w: caller is not a participant", domain.ErrForbidden)
	}
	return s.convs.FindOrCreate(ctx, ps)
}

// List returns the caller's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, caller string) ([]*domain.Conversation, error) {
	return s.convs.ListByParticipant(ctx, caller)
}

// Messages returns a conversation's log in ascending timestamp order.
func (s *ConversationService) Messages(ctx context.Context, caller, conversationID string) ([]*domain.Message, error) {
	c, err := s.convs.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(caller) {
		return nil, domain.ErrForbidden
	}
	return s.msgs.ListByConversation(ctx, conversationID)
}
