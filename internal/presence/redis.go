package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the presence document mirrored to redis:
// <prefix>:presence:<identity> -> {status,last_seen}
type Status struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// Mirror copies presence changes into redis for other services to read.
// It is informational only; routing always uses the in-process Registry.
type Mirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewMirror(r *redis.Client, prefix string, ttl time.Duration) *Mirror {
	return &Mirror{client: r, prefix: prefix, ttl: ttl, now: time.Now}
}

func (m *Mirror) presenceKey(identity string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, identity)
}

func (m *Mirror) onlineKey() string { return fmt.Sprintf("%s:online", m.prefix) }

// MarkOnline sets the identity online with a ttl and adds it to the online set.
func (m *Mirror) MarkOnline(ctx context.Context, identity string) error {
	b, err := json.Marshal(Status{Status: "online", LastSeen: m.now().Unix()})
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.presenceKey(identity), b, m.ttl)
	pipe.SAdd(ctx, m.onlineKey(), identity)
	_, err = pipe.Exec(ctx)
	return err
}

// MarkOffline records the last seen time without expiry.
func (m *Mirror) MarkOffline(ctx context.Context, identity string) error {
	b, err := json.Marshal(Status{Status: "offline", LastSeen: m.now().Unix()})
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.presenceKey(identity), b, 0)
	pipe.SRem(ctx, m.onlineKey(), identity)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the mirrored status. Unknown identities report offline with
// a zero last_seen.
func (m *Mirror) Get(ctx context.Context, identity string) (Status, error) {
	b, err := m.client.Get(ctx, m.presenceKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{Status: "offline"}, nil
	}
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Reset clears the online set, used at startup since a restarted process
// holds no live connections.
func (m *Mirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, m.onlineKey()).Err()
}
