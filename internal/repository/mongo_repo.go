package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConversationStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoConversationStore(coll *mongo.Collection) *MongoConversationStore {
	return &MongoConversationStore{coll: coll, now: Now}
}

// EnsureIndexes creates the unique pair index that makes FindOrCreate atomic.
func (r *MongoConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "participantKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("participant_key_uq"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "lastMessageTime", Value: -1}},
			Options: options.Index().SetName("participants_last_idx"),
		},
	})
	return err
}

func (r *MongoConversationStore) FindByParticipants(ctx context.Context, participants []string) (*domain.Conversation, error) {
	key, err := domain.ParticipantKey(participants)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"participantKey": key})
}

func (r *MongoConversationStore) FindOrCreate(ctx context.Context, participants []string) (*domain.Conversation, error) {
	ps, key, err := domain.NormalizeParticipants(participants)
	if err != nil {
		return nil, err
	}
	now := r.now()
	filter := bson.M{"participantKey": key}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":             uuid.NewString(),
		"participants":    ps,
		"participantKey":  key,
		"lastMessage":     "",
		"lastMessageTime": now,
		"createdAt":       now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c domain.Conversation
	err = r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent upsert won the insert; the document exists now
		return r.findOne(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return &c, nil
}

func (r *MongoConversationStore) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoConversationStore) ListByParticipant(ctx context.Context, identity string) ([]*domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastMessageTime", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"participants": identity}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *MongoConversationStore) UpdateSummary(ctx context.Context, id, lastMessage string, lastMessageTime time.Time) error {
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"lastMessage":     lastMessage,
		"lastMessageTime": lastMessageTime,
	}})
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoConversationStore) findOne(ctx context.Context, filter bson.M) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

type MongoMessageStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoMessageStore(coll *mongo.Collection) *MongoMessageStore {
	return &MongoMessageStore{coll: coll, now: Now}
}

func (r *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversationId", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("conversation_ts_idx"),
		},
		{
			Keys:    bson.D{{Key: "sender", Value: 1}},
			Options: options.Index().SetName("sender_idx"),
		},
	})
	return err
}

func (r *MongoMessageStore) Append(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = r.now()
	}
	if _, err := r.coll.InsertOne(ctx, &cp); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &cp, nil
}

func (r *MongoMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (r *MongoMessageStore) UpdateSenderProfile(ctx context.Context, sender, name, photo string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, bson.M{"sender": sender}, bson.M{"$set": bson.M{
		"senderName":  name,
		"senderPhoto": photo,
	}})
	if err != nil {
		return 0, fmt.Errorf("update sender profile: %w", err)
	}
	return res.ModifiedCount, nil
}
