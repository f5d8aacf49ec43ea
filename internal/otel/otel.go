// Package otel wires tracing and metrics for a single tsrunner run.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.40.0"

	"github.com/terrpan/tsrunner/internal/buildinfo"
)

// exportInterval is how often periodic metric readers flush.  Shutdown
// always flushes, so short runs lose nothing.
const exportInterval = 10 * time.Second

// Config selects the exporters.
type Config struct {
	// Enabled turns on OTLP/HTTP export of traces and metrics.
	Enabled bool

	// Endpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT (host:port).
	Endpoint string

	// Insecure sends OTLP over plain HTTP.
	Insecure bool

	// StdOut mirrors traces and metrics to stdout.
	StdOut bool

	// PushGatewayURL, when set, pushes the run's metrics to a Prometheus
	// Pushgateway on shutdown.
	PushGatewayURL string
}

// SetupOTelSDK installs the global tracer and meter providers for
// serviceName.  With nothing enabled the globals stay no-op.
//
// The returned shutdown pushes to the Pushgateway first, then flushes
// and closes the providers.  Call it once, after the run.
func SetupOTelSDK(
	ctx context.Context,
	serviceName string,
	cfg Config,
) (shutdown func(context.Context) error, err error) {
	var hooks []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var errs error
		for _, fn := range hooks {
			errs = errors.Join(errs, fn(ctx))
		}
		hooks = nil
		return errs
	}
	fail := func(cause error) (func(context.Context) error, error) {
		return shutdown, errors.Join(cause, shutdown(ctx))
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(buildinfo.Version),
		),
	)
	if err != nil {
		return fail(err)
	}

	if cfg.Enabled {
		tp, err := newTraceProvider(ctx, res, cfg)
		if err != nil {
			return fail(err)
		}
		hooks = append(hooks, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.Enabled || cfg.PushGatewayURL != "" {
		mp, registry, err := newMeterProvider(ctx, res, cfg)
		if err != nil {
			return fail(err)
		}
		if registry != nil {
			hooks = append(hooks, pushFunc(cfg.PushGatewayURL, serviceName, registry))
		}
		hooks = append(hooks, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	return shutdown, nil
}

// pushFunc returns a hook that pushes everything gathered by registry
// to the Pushgateway at url, grouped under job.
func pushFunc(url, job string, registry *prometheus.Registry) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := push.New(url, job).Gatherer(registry).PushContext(ctx); err != nil {
			return fmt.Errorf("pushing metrics to %s: %w", url, err)
		}
		return nil
	}
}

func newTraceProvider(ctx context.Context, res *resource.Resource, cfg Config) (*trace.TracerProvider, error) {
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	otlp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
	}
	exporters := []trace.SpanExporter{otlp}

	if cfg.StdOut {
		stdout, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		exporters = append(exporters, stdout)
	}

	providerOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	for _, exp := range exporters {
		providerOpts = append(providerOpts, trace.WithBatcher(exp, trace.WithBatchTimeout(time.Second)))
	}
	return trace.NewTracerProvider(providerOpts...), nil
}

// newMeterProvider builds the meter provider.  The registry is non-nil
// only when a Pushgateway is configured; it backs a Prometheus reader
// and is never served over HTTP.
func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*metric.MeterProvider, *prometheus.Registry, error) {
	providerOpts := []metric.Option{metric.WithResource(res)}

	if cfg.Enabled {
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		otlp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, metric.WithReader(
			metric.NewPeriodicReader(otlp, metric.WithInterval(exportInterval))))
	}

	if cfg.StdOut {
		stdout, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, metric.WithReader(
			metric.NewPeriodicReader(stdout, metric.WithInterval(exportInterval))))
	}

	var registry *prometheus.Registry
	if cfg.PushGatewayURL != "" {
		registry = prometheus.NewRegistry()
		reader, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		providerOpts = append(providerOpts, metric.WithReader(reader))
	}

	return metric.NewMeterProvider(providerOpts...), registry, nil
}
