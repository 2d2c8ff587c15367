/*
Package events delivers settlement events to downstream consumers.

PURPOSE:
  After a redemption commits, the coordinator hands a points.Settlement to a
  SettlementPublisher. Delivery is best-effort: the redemption is already
  durable, and a lost event is recoverable from the codes table.

IMPLEMENTATIONS:
  KafkaPublisher: JSON value, keyed by user id so one user's settlements stay
                  ordered within a partition. Trace context travels in headers.
  LogPublisher:   writes the event to the structured log. Used when no
                  brokers are configured.

SEE ALSO:
  - points/redemption.go: the only producer
*/
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ecosync/rewards-engine/points"
)

// DefaultTopic is where settlements are written unless configured otherwise.
const DefaultTopic = "points.settlements"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// =============================================================================
// KAFKA
// =============================================================================

// KafkaPublisher implements points.SettlementPublisher on a kafka.Writer.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

var _ points.SettlementPublisher = (*KafkaPublisher)(nil)

// NewKafkaWriter builds a writer that hashes keys to partitions and waits for
// all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, timeout: 5 * time.Second}
}

func (p *KafkaPublisher) PublishSettlement(ctx context.Context, s points.Settlement) error {
	value, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal settlement")
	}

	msg := kafka.Message{
		Key:   []byte(s.UserID),
		Value: value,
		Time:  s.SettledAt,
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish settlement %s", s.Code)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// =============================================================================
// LOG
// =============================================================================

// LogPublisher writes settlements to a zerolog logger.
type LogPublisher struct {
	Log zerolog.Logger
}

var _ points.SettlementPublisher = LogPublisher{}

func (p LogPublisher) PublishSettlement(_ context.Context, s points.Settlement) error {
	p.Log.Info().
		Str("event", "settlement").
		Str("code", s.Code).
		Str("user_id", s.UserID).
		Str("partner_id", s.PartnerID).
		Int64("points", s.Points).
		Int64("user_balance", s.UserBalance).
		Int64("partner_earnings", s.PartnerEarnings).
		Time("settled_at", s.SettledAt).
		Msg("settlement")
	return nil
}
