// OpenTelemetry tracing for calls to the store
package wtrace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const name = "encdex"

type Config struct {
	Enabled bool
	// Collector endpoint. When empty the exporter reads
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string
	// "grpc" (default) or "http"
	Protocol       string
	ServiceName    string
	ServiceVersion string
	// Fraction of traces to sample. Negative means unset.
	SampleRate float64
	Insecure   bool
}

// Spans are no-ops until Init is called with an enabled Config.
var Tracer trace.Tracer = otel.Tracer(name)

// Reads:
//   - OTEL_ENABLED
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_EXPORTER_OTLP_PROTOCOL
//   - OTEL_SERVICE_NAME
//   - OTEL_TRACE_SAMPLE_RATE
//   - OTEL_EXPORTER_OTLP_INSECURE
func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:     os.Getenv("OTEL_ENABLED") == "true",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Protocol:    os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"),
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		SampleRate:  -1,
	}
	if s := os.Getenv("OTEL_TRACE_SAMPLE_RATE"); s != "" {
		r, err := strconv.ParseFloat(s, 64)
		if err == nil && r >= 0 && r <= 1 {
			cfg.SampleRate = r
		}
	}
	return cfg
}

func (cfg *Config) defaults() error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = name
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "unknown"
	}
	switch cfg.Protocol {
	case "", "grpc":
		cfg.Protocol = "grpc"
	case "http", "http/protobuf":
		cfg.Protocol = "http"
	default:
		return fmt.Errorf("unsupported protocol: %s (use 'grpc' or 'http')", cfg.Protocol)
	}
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 1
	}
	return nil
}

// Returns a shutdown func that flushes pending spans.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		Tracer = otel.Tracer(name)
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "grpc":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tp.Tracer(cfg.ServiceName)

	slog.InfoContext(ctx, "tracing-initialized",
		"endpoint", cfg.Endpoint,
		"protocol", cfg.Protocol,
		"sample_rate", cfg.SampleRate,
	)
	return func(ctx context.Context) error {
		slog.InfoContext(ctx, "tracing-shutdown")
		return tp.Shutdown(ctx)
	}, nil
}

// Starts a span named op with a collection attribute.
// Callers must End the returned span.
func Start(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("encdex.collection", collection),
	))
}

// Marks the span as failed when err is not nil
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
