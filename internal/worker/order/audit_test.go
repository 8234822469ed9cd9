package order

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
	ordersvc "github.com/Additional-Code/pharmadesk/internal/service/order"
)

func newAudit(t *testing.T) (messaging.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := config.Config{Messaging: config.Messaging{Kafka: config.Kafka{Topic: "orders.events"}}}

	reg := NewAuditHandler(zap.New(core), cfg)
	require.Equal(t, "orders.events", reg.Topic)
	return reg.Handler, logs
}

func TestAuditLogsOrderEvents(t *testing.T) {
	handler, logs := newAudit(t)

	payload, err := json.Marshal(ordersvc.OrderEvent{
		ID:      "evt-1",
		Type:    ordersvc.EventPharmacyStatusUpdated,
		OrderID: "660000000000000000000001",
		Role:    "jpmc",
		Field:   "pharmacyStatus",
		Value:   "ready",
		At:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), messaging.Message{Topic: "orders.events", Value: payload}))

	entries := logs.FilterMessage("order event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "660000000000000000000001", fields["order_id"])
	assert.Equal(t, ordersvc.EventPharmacyStatusUpdated, fields["type"])
	assert.Equal(t, "ready", fields["value"])
	assert.NotContains(t, fields, "actor")
}

func TestAuditDropsUndecodableMessages(t *testing.T) {
	handler, logs := newAudit(t)

	err := handler(context.Background(), messaging.Message{Topic: "orders.events", Value: []byte("{not json")})
	assert.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("failed to decode order event").Len())
}
