package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/google/uuid"
)

// MemoryConversationStore keeps conversations in process. Used for local
// runs and tests.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Conversation
	byKey map[string]string // participantKey -> id
	now   func() time.Time
}

func NewMemoryConversationStore(seed ...*domain.Conversation) *MemoryConversationStore {
	s := &MemoryConversationStore{
		byID:  make(map[string]*domain.Conversation),
		byKey: make(map[string]string),
		now:   Now,
	}
	for _, c := range seed {
		cp := *c
		if key, err := domain.ParticipantKey(cp.Participants); err == nil {
			cp.ParticipantKey = key
			s.byKey[key] = cp.ID
		}
		s.byID[cp.ID] = &cp
	}
	return s
}

func (s *MemoryConversationStore) FindByParticipants(_ context.Context, participants []string) (*domain.Conversation, error) {
	key, err := domain.ParticipantKey(participants)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyConversation(s.byID[id]), nil
}

func (s *MemoryConversationStore) FindOrCreate(_ context.Context, participants []string) (*domain.Conversation, error) {
	ps, key, err := domain.NormalizeParticipants(participants)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return copyConversation(s.byID[id]), nil
	}
	now := s.now()
	c := &domain.Conversation{
		ID:              uuid.NewString(),
		Participants:    ps,
		ParticipantKey:  key,
		LastMessageTime: now,
		CreatedAt:       now,
	}
	s.byID[c.ID] = c
	s.byKey[key] = c.ID
	return copyConversation(c), nil
}

func (s *MemoryConversationStore) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *MemoryConversationStore) ListByParticipant(_ context.Context, identity string) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Conversation{}
	for _, c := range s.byID {
		if c.HasParticipant(identity) {
			out = append(out, copyConversation(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out, nil
}

func (s *MemoryConversationStore) UpdateSummary(_ context.Context, id, lastMessage string, lastMessageTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastMessage = lastMessage
	c.LastMessageTime = lastMessageTime
	return nil
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

// MemoryMessageStore keeps messages per conversation in insertion order.
type MemoryMessageStore struct {
	mu     sync.RWMutex
	byConv map[string][]*domain.Message
	now    func() time.Time
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{byConv: make(map[string][]*domain.Message), now: Now}
}

func (s *MemoryMessageStore) Append(_ context.Context, m *domain.Message) (*domain.Message, error) {
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConv[cp.ConversationID] = append(s.byConv[cp.ConversationID], &cp)
	out := cp
	return &out, nil
}

func (s *MemoryMessageStore) ListByConversation(_ context.Context, conversationID string) ([]*domain.Message, error) {
	s.mu.RLock()
	msgs := s.byConv[conversationID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryMessageStore) UpdateSenderProfile(_ context.Context, sender, name, photo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msgs := range s.byConv {
		for _, m := range msgs {
			if m.Sender == sender {
				m.SenderName = name
				m.SenderPhoto = photo
				n++
			}
		}
	}
	return n, nil
}
