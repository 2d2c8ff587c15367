package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/points"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func settlement() points.Settlement {
	return points.Settlement{
		Code:            "QR-1",
		UserID:          "user-1",
		PartnerID:       "partner-1",
		Points:          50,
		UserBalance:     150,
		PartnerEarnings: 500,
		SettledAt:       time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_KeyAndPayload(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.PublishSettlement(context.Background(), settlement()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "QR-1", got["code"])
	assert.Equal(t, "partner-1", got["partnerId"])
	assert.EqualValues(t, 50, got["points"])
	assert.EqualValues(t, 150, got["userBalance"])
	assert.Equal(t, "2024-03-05T10:00:00Z", got["settledAt"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("leader not available")})

	err := p.PublishSettlement(context.Background(), settlement())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "QR-1")
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := headerCarrier{msg: &msg}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("baggage", "k=v")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("missing"))

	var _ propagation.TextMapCarrier = c
}

func TestNewKafkaWriter_DefaultTopic(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "")
	assert.Equal(t, DefaultTopic, w.Topic)
}

func TestLogPublisher(t *testing.T) {
	buf := &bytes.Buffer{}
	p := LogPublisher{Log: logger.NewWithWriter(buf)}

	require.NoError(t, p.PublishSettlement(context.Background(), settlement()))

	assert.Contains(t, buf.String(), `"code":"QR-1"`)
	assert.Contains(t, buf.String(), `"points":50`)
}
