package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
)

const maxBackoff = 30 * time.Second

// Outcomes recorded on the pharmadesk.worker.messages counter.
const (
	OutcomeHandled = "handled"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// HandlerRegistration binds a topic to a handler. EventTypes limits the
// handler to messages carrying one of those event-type headers; empty means
// every message on the topic.
type HandlerRegistration struct {
	Topic      string
	EventTypes []string
	Handler    messaging.Handler
}

func (r HandlerRegistration) accepts(eventType string) bool {
	return len(r.EventTypes) == 0 || slices.Contains(r.EventTypes, eventType)
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
	MeterProvider metric.MeterProvider  `optional:"true"`
}

// Engine consumes order events and fans each one out to the matching handlers.
type Engine struct {
	client   messaging.Client
	logger   *zap.Logger
	cfg      config.Worker
	enabled  bool
	routes   map[string][]HandlerRegistration
	messages metric.Int64Counter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) (*Engine, error) {
	mp := p.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	messages, err := mp.Meter("github.com/Additional-Code/pharmadesk/worker").Int64Counter("pharmadesk.worker.messages",
		metric.WithDescription("Order event messages consumed, by outcome"))
	if err != nil {
		return nil, err
	}

	routes := make(map[string][]HandlerRegistration, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		routes[r.Topic] = append(routes[r.Topic], r)
	}

	return &Engine{
		client:   p.Client,
		logger:   p.Logger.Named("worker"),
		cfg:      p.Config.Messaging.Workers,
		enabled:  p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled,
		routes:   routes,
		messages: messages,
	}, nil
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

// dispatch runs every handler registered for msg. All matching handlers run
// even when one fails; their errors are joined.
func (e *Engine) dispatch(ctx context.Context, msg messaging.Message) error {
	eventType := msg.Header(messaging.HeaderEventType)

	var (
		matched int
		errs    error
	)
	for _, r := range e.routes[msg.Topic] {
		if !r.accepts(eventType) {
			continue
		}
		matched++
		errs = errors.Join(errs, r.Handler(ctx, msg))
	}

	outcome := OutcomeHandled
	switch {
	case matched == 0:
		outcome = OutcomeSkipped
		e.logger.Debug("no handler for message", zap.String("topic", msg.Topic), zap.String("event_type", eventType))
	case errs != nil:
		outcome = OutcomeFailed
	}
	e.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", msg.Topic),
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
	return errs
}

func (e *Engine) start(context.Context) error {
	if !e.enabled {
		e.logger.Info("worker engine disabled")

		return nil
	}
	if len(e.routes) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")

		return nil
	}

	workers := max(e.cfg.Concurrency, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	for i := range workers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, i)
		}()
	}

	e.logger.Info("worker engine started", zap.Int("workers", workers), zap.String("topic", e.client.Topic()))

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")

		return nil
	}
}

// consumeLoop restarts Consume after transport errors, doubling the wait from
// the poll interval up to maxBackoff.
func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := e.cfg.PollInterval
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := e.client.Consume(ctx, e.dispatch)
		if err == nil || ctx.Err() != nil {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Int("worker", workerID), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
