// Package observability sets up OpenTelemetry tracing for relay. Metrics
// live in pkg/metrics and logging in pkg/logger.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	SamplingRate   float64       `mapstructure:"sampling_rate"`
	Exporter       string        `mapstructure:"exporter"` // "none" or "stdout"
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
}

// DefaultTracingConfig returns tracing disabled
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "relay",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		Exporter:       "none",
		BatchTimeout:   5 * time.Second,
	}
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// Init installs the global tracer provider. With the "none" exporter the
// otel no-op provider stays in place and spans cost nothing.
func Init(config TracingConfig) error {
	switch config.Exporter {
	case "", "none":
		return nil
	case "stdout":
	default:
		return fmt.Errorf("unknown trace exporter %q", config.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return install(config, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)))
}

func install(config TracingConfig, opts ...sdktrace.TracerProviderOption) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}, opts...)...)

	providerMu.Lock()
	old := provider
	provider = tp
	providerMu.Unlock()
	if old != nil {
		_ = old.Shutdown(context.Background())
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}
