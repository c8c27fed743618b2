package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the tracer and meter providers for the process
type Provider struct {
	tracer   *trace.TracerProvider
	meter    *metric.MeterProvider
	registry *prometheus.Registry
}

// Options configures Setup
type Options struct {
	ServiceName string
	// TraceOutput receives spans as JSON; nil keeps spans in-process only
	TraceOutput io.Writer
}

// Setup installs global OpenTelemetry tracer and meter providers. Metrics are
// exported through a dedicated Prometheus registry served by MetricsHandler.
func Setup(opts Options) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	tpOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	if opts.TraceOutput != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.TraceOutput))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
		}
		tpOpts = append(tpOpts, trace.WithBatcher(exp))
	}
	tp := trace.NewTracerProvider(tpOpts...)

	registry := prometheus.NewRegistry()
	exp, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exp), metric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Provider{tracer: tp, meter: mp, registry: registry}, nil
}

// MetricsHandler serves the Prometheus exposition of the otel metrics
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and metrics
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	if err := p.meter.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
