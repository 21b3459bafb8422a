package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stores struct {
	convs ConversationStore
	msgs  MessageStore
}

// backends returns the memory stores and, when MESSAGING_TEST_MONGO_URI is
// set, stores backed by a throwaway mongo database.
func backends(t *testing.T) map[string]func(t *testing.T) stores {
	out := map[string]func(t *testing.T) stores{
		"memory": func(t *testing.T) stores {
			return stores{convs: NewMemoryConversationStore(), msgs: NewMemoryMessageStore()}
		},
	}
	uri := os.Getenv("MESSAGING_TEST_MONGO_URI")
	if uri == "" {
		return out
	}
	out["mongo"] = func(t *testing.T) stores {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		client, err := NewMongoClient(ctx, uri, 10*time.Second, zap.NewNop().Sugar())
		require.NoError(t, err)
		db := client.Database("messaging_test_" + uuid.NewString()[:8])
		t.Cleanup(func() {
			_ = db.Drop(context.Background())
			_ = client.Disconnect(context.Background())
		})
		cs := NewMongoConversationStore(db.Collection("conversations"))
		ms := NewMongoMessageStore(db.Collection("messages"))
		require.NoError(t, cs.EnsureIndexes(ctx))
		require.NoError(t, ms.EnsureIndexes(ctx))
		return stores{convs: cs, msgs: ms}
	}
	return out
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			c1, err := s.convs.FindOrCreate(ctx, []string{"alice@example.com", "bob@example.com"})
			require.NoError(t, err)
			c2, err := s.convs.FindOrCreate(ctx, []string{"bob@example.com", "alice@example.com"})
			require.NoError(t, err)

			assert.Equal(t, c1.ID, c2.ID)
			assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, c2.Participants)
			assert.Empty(t, c1.LastMessage)
			assert.False(t, c1.CreatedAt.IsZero())

			found, err := s.convs.FindByParticipants(ctx, []string{"bob@example.com", "alice@example.com"})
			require.NoError(t, err)
			assert.Equal(t, c1.ID, found.ID)
		})
	}
}

func TestFindOrCreateConcurrentFirstContact(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			ids := make([]string, 16)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					pair := []string{"alice@example.com", "bob@example.com"}
					if i%2 == 1 {
						pair = []string{"bob@example.com", "alice@example.com"}
					}
					c, err := s.convs.FindOrCreate(ctx, pair)
					if assert.NoError(t, err) {
						ids[i] = c.ID
					}
				}(i)
			}
			wg.Wait()

			for _, id := range ids {
				assert.Equal(t, ids[0], id)
			}
			list, err := s.convs.ListByParticipant(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestFindOrCreateRejectsInvalidPairs(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			_, err := s.convs.FindOrCreate(context.Background(), []string{"alice@example.com", "alice@example.com"})
			assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
		})
	}
}

func TestFindMissingConversation(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()
			_, err := s.convs.FindByParticipants(ctx, []string{"x@example.com", "y@example.com"})
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, err = s.convs.FindByID(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			err = s.convs.UpdateSummary(ctx, "missing", "hi", Now())
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestListByParticipantSortedByLastMessage(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			ab, err := s.convs.FindOrCreate(ctx, []string{"alice@example.com", "bob@example.com"})
			require.NoError(t, err)
			ac, err := s.convs.FindOrCreate(ctx, []string{"alice@example.com", "carol@example.com"})
			require.NoError(t, err)
			_, err = s.convs.FindOrCreate(ctx, []string{"bob@example.com", "carol@example.com"})
			require.NoError(t, err)

			base := Now()
			require.NoError(t, s.convs.UpdateSummary(ctx, ac.ID, "older", base.Add(time.Second)))
			require.NoError(t, s.convs.UpdateSummary(ctx, ab.ID, "newer", base.Add(2*time.Second)))

			list, err := s.convs.ListByParticipant(ctx, "alice@example.com")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, ab.ID, list[0].ID)
			assert.Equal(t, "newer", list[0].LastMessage)
			assert.Equal(t, ac.ID, list[1].ID)
		})
	}
}

func TestAppendAndListMessages(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()
			base := Now()

			second, err := s.msgs.Append(ctx, &domain.Message{ConversationID: "c1", Sender: "bob@example.com", Message: "second", Timestamp: base.Add(time.Second)})
			require.NoError(t, err)
			first, err := s.msgs.Append(ctx, &domain.Message{ConversationID: "c1", Sender: "alice@example.com", Message: "first", Timestamp: base})
			require.NoError(t, err)
			_, err = s.msgs.Append(ctx, &domain.Message{ConversationID: "c2", Sender: "alice@example.com", Message: "other"})
			require.NoError(t, err)

			assert.NotEmpty(t, first.ID)
			assert.NotEqual(t, first.ID, second.ID)

			list, err := s.msgs.ListByConversation(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "first", list[0].Message)
			assert.Equal(t, "second", list[1].Message)
			assert.True(t, list[0].Timestamp.Equal(base))
			assert.False(t, list[0].Read)
		})
	}
}

func TestAppendAssignsTimestamp(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			before := Now()
			m, err := s.msgs.Append(context.Background(), &domain.Message{ConversationID: "c1", Message: "hi"})
			require.NoError(t, err)
			assert.False(t, m.Timestamp.Before(before))
			assert.Equal(t, m.Timestamp, m.Timestamp.Truncate(time.Millisecond))
		})
	}
}

func TestUpdateSenderProfile(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()
			for _, body := range []string{"one", "two"} {
				_, err := s.msgs.Append(ctx, &domain.Message{ConversationID: "c1", Sender: "alice@example.com", SenderName: "Al", Message: body})
				require.NoError(t, err)
			}
			_, err := s.msgs.Append(ctx, &domain.Message{ConversationID: "c1", Sender: "bob@example.com", SenderName: "Bob", Message: "three"})
			require.NoError(t, err)

			n, err := s.msgs.UpdateSenderProfile(ctx, "alice@example.com", "Alice", "alice.png")
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			list, err := s.msgs.ListByConversation(ctx, "c1")
			require.NoError(t, err)
			for _, m := range list {
				if m.Sender == "alice@example.com" {
					assert.Equal(t, "Alice", m.SenderName)
					assert.Equal(t, "alice.png", m.SenderPhoto)
				} else {
					assert.Equal(t, "Bob", m.SenderName)
				}
			}
		})
	}
}

func TestMemoryStoreSeed(t *testing.T) {
	s := NewMemoryConversationStore(&domain.Conversation{ID: "c1", Participants: []string{"alice@example.com", "bob@example.com"}})
	c, err := s.FindByParticipants(context.Background(), []string{"bob@example.com", "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
}
