package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/messaging-service/internal/kafka"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProfileSync backfills senderName and senderPhoto on stored messages when a
// user profile changes. Best effort: messages written concurrently may keep
// the old snapshot.
type ProfileSync struct {
	msgs       repository.MessageStore
	log        *zap.SugaredLogger
	maxElapsed time.Duration
}

func NewProfileSync(m repository.MessageStore, maxElapsed time.Duration, log *zap.SugaredLogger) *ProfileSync {
	return &ProfileSync{msgs: m, log: log, maxElapsed: maxElapsed}
}

// Apply updates every message sent by ev.Email, retrying transient failures.
func (p *ProfileSync) Apply(ctx context.Context, ev kafka.ProfileUpdatedEvent) (int64, error) {
	if ev.Email == "" {
		return 0, errors.New("profile event without email")
	}
	var n int64
	op := func() error {
		var err error
		n, err = p.msgs.UpdateSenderProfile(ctx, ev.Email, ev.Name, ev.Photo)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = p.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return 0, fmt.Errorf("backfill profile for %s: %w", ev.Email, err)
	}
	return n, nil
}

// HandleRecord is a kafka.Handler for the profile-updated topic.
func (p *ProfileSync) HandleRecord(ctx context.Context, msg kafkago.Message) error {
	var ev kafka.ProfileUpdatedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode profile event: %w", err)
	}
	n, err := p.Apply(ctx, ev)
	if err != nil {
		return err
	}
	p.log.Infow("sender profile backfilled", "email", ev.Email, "messages", n)
	return nil
}
