// Package tracing wires OpenTelemetry tracing for the service. Without a
// configured endpoint the global no-op provider stays in place and spans
// cost nothing.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/ghnautomation-boop/Spec-table-sub000"

// Config holds configuration for the OTLP exporter.
type Config struct {
	// Endpoint is the collector address. Empty disables tracing.
	Endpoint string

	// Protocol is either "grpc" or "http".
	Protocol string

	// Insecure disables TLS (for local development).
	Insecure bool

	// Timeout for the exporter.
	Timeout time.Duration

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string
}

// DefaultConfig returns a disabled tracing configuration.
func DefaultConfig() *Config {
	return &Config{
		Protocol:    "grpc",
		Insecure:    true,
		Timeout:     10 * time.Second,
		ServiceName: "spectable-server",
	}
}

// ConfigFromEnv reads tracing configuration from environment variables.
//
// Environment variables:
//   - SPECTABLE_OTLP_ENDPOINT: collector address, e.g. "localhost:4317" (default: disabled)
//   - SPECTABLE_OTLP_PROTOCOL: "grpc" or "http" (default: "grpc")
//   - SPECTABLE_OTLP_INSECURE: "true" or "false" (default: "true")
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("SPECTABLE_OTLP_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("SPECTABLE_OTLP_PROTOCOL"); v != "" {
		cfg.Protocol = strings.ToLower(v)
	}
	if v := os.Getenv("SPECTABLE_OTLP_INSECURE"); v != "" {
		cfg.Insecure = strings.EqualFold(v, "true") || v == "1"
	}
	return cfg
}

// Setup installs a batching tracer provider exporting over OTLP. The
// returned function flushes and shuts the provider down. When cfg has no
// endpoint Setup is a no-op.
func Setup(ctx context.Context, cfg *Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg == nil || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg *Config) (*otlptrace.Exporter, error) {
	switch cfg.Protocol {
	case "grpc", "":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s (use 'grpc' or 'http')", cfg.Protocol)
	}
}

// StartSpan starts a span named spanName tagged with the shop id.
func StartSpan(ctx context.Context, spanName, shopID string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName,
		trace.WithAttributes(attribute.String("shop.id", shopID)))
}

// TraceID returns the active trace id, or "" outside a recorded span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
