package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes message.sent events. Writes go through a circuit
// breaker so a broker outage fails fast instead of piling up.
type Producer struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker
	topic  string
	now    func() time.Time
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return newProducer(w, topic, log)
}

func newProducer(w messageWriter, topic string, log *zap.SugaredLogger) *Producer {
	st := gobreaker.Settings{
		Name:        "kafka-" + topic,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Producer{writer: w, cb: gobreaker.NewCircuitBreaker(st), topic: topic, now: time.Now}
}

// PublishMessageSent keys the record by conversation so one conversation
// stays on one partition.
func (p *Producer) PublishMessageSent(ctx context.Context, m *domain.Message) error {
	b, err := json.Marshal(MessageSentEvent{Event: EventMessageSent, Message: *m, OccurredAt: p.now().UTC()})
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(m.ConversationID),
		Value: b,
		Time:  p.now(),
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	return err
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
