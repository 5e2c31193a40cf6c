package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/itsneelabh/bloxgate/core"
)

// TracerProvider owns the OTel SDK setup. Spans export over OTLP/gRPC when
// an endpoint is configured, to stdout in debug mode, and nowhere otherwise
// (the global no-op provider stays in place).
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   core.Logger
}

// NewTracerProvider configures trace export and installs the global tracer
// provider and propagators. Returns a provider with nothing to shut down
// when export is disabled.
func NewTracerProvider(cfg core.TelemetryConfig, serviceName string, logger core.Logger) (*TracerProvider, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	tp := &TracerProvider{logger: logger}

	if !cfg.Enabled || (cfg.OTLPEndpoint == "" && !cfg.StdoutTrace) {
		logger.Debug("tracing_disabled", nil)
		return tp, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
	}

	tp.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing_enabled", map[string]interface{}{
		"endpoint": cfg.OTLPEndpoint,
		"stdout":   cfg.StdoutTrace,
	})
	return tp, nil
}

// Shutdown flushes pending spans. Safe to call when export was disabled.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}
