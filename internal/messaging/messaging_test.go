package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

func TestToKafkaSortsHeadersAndLeavesTopicToWriter(t *testing.T) {
	msg := toKafka(Envelope{
		Key:   []byte("650000000000000000000001"),
		Value: []byte(`{"type":"order.remark_appended"}`),
		Headers: map[string]string{
			HeaderEventType:   "order.remark_appended",
			HeaderContentType: "application/json",
		},
	})

	assert.Empty(t, msg.Topic)
	assert.Equal(t, []byte("650000000000000000000001"), msg.Key)
	assert.Equal(t, []kafka.Header{
		{Key: HeaderContentType, Value: []byte("application/json")},
		{Key: HeaderEventType, Value: []byte("order.remark_appended")},
	}, msg.Headers)

	assert.Nil(t, toKafka(Envelope{Value: []byte("x")}).Headers)
}

func TestFromKafkaCopiesPayload(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	value := []byte(`{"orderId":"1"}`)
	in := fromKafka(kafka.Message{
		Topic:   "orders.events",
		Key:     []byte("1"),
		Value:   value,
		Offset:  42,
		Time:    at,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("order.log_appended")}},
	})

	value[0] = 'X'
	assert.Equal(t, `{"orderId":"1"}`, string(in.Value))
	assert.Equal(t, "orders.events", in.Topic)
	assert.Equal(t, int64(42), in.Offset)
	assert.Equal(t, at, in.Time)
	assert.Equal(t, "order.log_appended", in.Header(HeaderEventType))
	assert.Empty(t, in.Header("missing"))

	assert.Nil(t, fromKafka(kafka.Message{}).Headers)
}

func TestNewClientDisabledIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Messaging: config.Messaging{Enabled: false, Driver: "kafka", Kafka: config.Kafka{Topic: "orders.events"}}}

	client, err := NewClient(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "orders.events", client.Topic())
	assert.NoError(t, client.Publish(context.Background(), Envelope{Value: []byte("{}")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.Consume(ctx, func(context.Context, Message) error { return nil }), context.Canceled)
}

func TestNewClientRejectsUnknownDriver(t *testing.T) {
	cfg := config.Config{Messaging: config.Messaging{Enabled: true, Driver: "nats"}}

	_, err := NewClient(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "nats")
}
