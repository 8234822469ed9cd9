package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
	ordersvc "github.com/Additional-Code/pharmadesk/internal/service/order"
	"github.com/Additional-Code/pharmadesk/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewAuditHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewAuditHandler consumes order mutation events and writes them to the audit log.
func NewAuditHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	audit := logger.Named("audit")

	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.audit", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("messaging.event_type", msg.Header(messaging.HeaderEventType)),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var event ordersvc.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison messages are dropped so the partition keeps moving.
			audit.Error("failed to decode order event", zap.Error(err), zap.Int64("offset", msg.Offset))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}

		span.SetAttributes(
			attribute.String("order.id", event.OrderID),
			attribute.String("order.event", event.Type),
			attribute.String("access.role", event.Role),
		)

		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.String("role", event.Role),
			zap.String("field", event.Field),
			zap.Time("at", event.At),
		}
		if event.Value != nil {
			fields = append(fields, zap.Any("value", event.Value))
		}
		if event.Actor != "" {
			fields = append(fields, zap.String("actor", event.Actor))
		}
		audit.Info("order event", fields...)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
