package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
)

const topic = "orders.events"

// feedClient hands its messages to the handler once, then blocks until ctx ends.
type feedClient struct {
	messages  []messaging.Message
	once      sync.Once
	delivered chan struct{}
}

func (f *feedClient) Publish(context.Context, messaging.Envelope) error { return nil }

func (f *feedClient) Consume(ctx context.Context, handler messaging.Handler) error {
	f.once.Do(func() {
		for _, m := range f.messages {
			_ = handler(ctx, m)
		}
		if f.delivered != nil {
			close(f.delivered)
		}
	})
	<-ctx.Done()
	return ctx.Err()
}

func (f *feedClient) Topic() string { return topic }

func event(eventType string) messaging.Message {
	return messaging.Message{Topic: topic, Headers: map[string]string{messaging.HeaderEventType: eventType}}
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recorder) handle(_ context.Context, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg.Header(messaging.HeaderEventType))
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func newEngine(t *testing.T, client messaging.Client, regs ...HandlerRegistration) (*Engine, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	cfg := config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: true, Concurrency: 1, PollInterval: 10 * time.Millisecond},
	}}
	e, err := NewEngine(Params{
		Client:        client,
		Logger:        zap.NewNop(),
		Config:        cfg,
		Registrations: regs,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)
	return e, reader
}

func outcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pharmadesk.worker.messages" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				eventType, _ := dp.Attributes.Value(attribute.Key("event_type"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				out[eventType.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestDispatchRoutesByEventType(t *testing.T) {
	all := &recorder{}
	remarks := &recorder{}
	e, reader := newEngine(t, &feedClient{},
		HandlerRegistration{Topic: topic, Handler: all.handle},
		HandlerRegistration{Topic: topic, EventTypes: []string{"order.remark_appended"}, Handler: remarks.handle},
	)
	ctx := context.Background()

	require.NoError(t, e.dispatch(ctx, event("order.log_appended")))
	require.NoError(t, e.dispatch(ctx, event("order.remark_appended")))
	require.NoError(t, e.dispatch(ctx, messaging.Message{Topic: "other.topic"}))

	assert.Equal(t, []string{"order.log_appended", "order.remark_appended"}, all.types())
	assert.Equal(t, []string{"order.remark_appended"}, remarks.types())
	assert.Equal(t, map[string]int64{
		"order.log_appended/handled":    1,
		"order.remark_appended/handled": 1,
		"/skipped":                      1,
	}, outcomes(t, reader))
}

func TestDispatchRunsEveryHandlerAndJoinsErrors(t *testing.T) {
	failing := &recorder{err: errors.New("audit sink down")}
	healthy := &recorder{}
	e, reader := newEngine(t, &feedClient{},
		HandlerRegistration{Topic: topic, Handler: failing.handle},
		HandlerRegistration{Topic: topic, Handler: healthy.handle},
	)

	err := e.dispatch(context.Background(), event("order.log_appended"))
	assert.ErrorContains(t, err, "audit sink down")
	assert.Len(t, healthy.types(), 1)
	assert.Equal(t, map[string]int64{"order.log_appended/failed": 1}, outcomes(t, reader))
}

func TestNewEngineIgnoresIncompleteRegistrations(t *testing.T) {
	e, _ := newEngine(t, &feedClient{},
		HandlerRegistration{Topic: "", Handler: (&recorder{}).handle},
		HandlerRegistration{Topic: topic},
	)
	assert.Empty(t, e.routes)
	require.NoError(t, e.start(context.Background()))
	assert.Nil(t, e.cancel)
}

func TestEngineConsumesUntilStopped(t *testing.T) {
	rec := &recorder{}
	client := &feedClient{
		messages:  []messaging.Message{event("order.log_appended"), event("order.pharmacy_status_updated")},
		delivered: make(chan struct{}),
	}
	e, _ := newEngine(t, client, HandlerRegistration{Topic: topic, Handler: rec.handle})

	require.NoError(t, e.start(context.Background()))
	select {
	case <-client.delivered:
	case <-time.After(time.Second):
		t.Fatal("messages were not consumed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.stop(ctx))
	assert.Equal(t, []string{"order.log_appended", "order.pharmacy_status_updated"}, rec.types())
}

func TestEngineDisabled(t *testing.T) {
	e, err := NewEngine(Params{
		Client:        &feedClient{},
		Logger:        zap.NewNop(),
		Config:        config.Config{Messaging: config.Messaging{Enabled: true}},
		Registrations: []HandlerRegistration{{Topic: topic, Handler: (&recorder{}).handle}},
	})
	require.NoError(t, err)
	require.NoError(t, e.start(context.Background()))
	assert.Nil(t, e.cancel)
	assert.NoError(t, e.stop(context.Background()))
}
