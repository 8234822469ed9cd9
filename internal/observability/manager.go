package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

const (
	serviceVersion  = "0.1.0"
	shutdownTimeout = 10 * time.Second
	stdoutInterval  = 30 * time.Second
)

// Manager owns the tracer and meter providers. Both are installed as the otel
// globals when the manager is built, before any service creates instruments.
type Manager struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	cfg            config.Observability
	logger         *zap.Logger
}

// Module exposes the manager and its meter provider to Fx.
var Module = fx.Provide(
	NewManager,
	func(m *Manager) metric.MeterProvider { return m.MeterProvider() },
)

// NewManager configures tracing and metrics from cfg.Observability.
func NewManager(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Manager, error) {
	obs := cfg.Observability
	ctx := context.Background()
	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("service.environment", obs.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}

	m := &Manager{cfg: obs, logger: logger.Named("observability")}
	if obs.EnableTracing {
		if err := m.initTracing(ctx, res); err != nil {
			return nil, err
		}
	}
	if obs.EnableMetrics {
		if err := m.initMetrics(res); err != nil {
			return nil, err
		}
	}

	if m.tracerProvider != nil {
		otel.SetTracerProvider(m.tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	if m.meterProvider != nil {
		otel.SetMeterProvider(m.meterProvider)
	}

	lc.Append(fx.Hook{OnStop: m.shutdown})

	return m, nil
}

// TracingEnabled reports whether spans are exported.
func (m *Manager) TracingEnabled() bool {
	return m.tracerProvider != nil
}

// MeterProvider returns the SDK provider, or the global one when metrics are off.
func (m *Manager) MeterProvider() metric.MeterProvider {
	if m.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return m.meterProvider
}

// MetricsHandler serves the Prometheus scrape endpoint. It is nil unless the
// prometheus exporter is configured.
func (m *Manager) MetricsHandler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var err error
	if m.tracerProvider != nil {
		err = errors.Join(err, m.tracerProvider.Shutdown(ctx))
	}
	if m.meterProvider != nil {
		err = errors.Join(err, m.meterProvider.Shutdown(ctx))
	}
	return err
}

func (m *Manager) initTracing(ctx context.Context, res *sdkresource.Resource) error {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(m.cfg.TraceExporter) {
	case "", "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if m.cfg.TraceEndpoint == "" {
			return errors.New("OBS_OTLP_ENDPOINT must be set for the otlp exporter")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(m.cfg.TraceEndpoint)}
		if m.cfg.TraceInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		dialCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		exporter, err = otlptracegrpc.New(dialCtx, opts...)
	default:
		m.logger.Warn("unsupported trace exporter; tracing disabled", zap.String("exporter", m.cfg.TraceExporter))
		return nil
	}
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}

	m.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return nil
}

// initMetrics builds the meter provider. The prometheus exporter gets a
// private registry so repeated construction in one process never collides.
func (m *Manager) initMetrics(res *sdkresource.Resource) error {
	var reader sdkmetric.Reader
	switch strings.ToLower(m.cfg.MetricsExporter) {
	case "prometheus":
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("prometheus exporter: %w", err)
		}
		m.registry = registry
		reader = exporter
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return fmt.Errorf("stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(stdoutInterval))
	default:
		m.logger.Warn("unsupported metrics exporter; metrics disabled", zap.String("exporter", m.cfg.MetricsExporter))
		return nil
	}

	m.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	return nil
}
