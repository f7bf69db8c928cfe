package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SPECTABLE_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("SPECTABLE_OTLP_PROTOCOL", "HTTP")
	t.Setenv("SPECTABLE_OTLP_INSECURE", "false")

	cfg := ConfigFromEnv()
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "http", cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, "spectable-server", cfg.ServiceName)
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = Setup(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnsupportedProtocol(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "localhost:4317"
	cfg.Protocol = "carrier-pigeon"

	_, err := Setup(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestSetup_Exporters(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, protocol := range []string{"grpc", "http"} {
		t.Run(protocol, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Endpoint = "127.0.0.1:1"
			cfg.Protocol = protocol
			cfg.Timeout = 100 * time.Millisecond

			shutdown, err := Setup(context.Background(), cfg)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// Nothing was exported, so shutdown has nothing to flush.
			assert.NoError(t, shutdown(ctx))
		})
	}
}

func TestStartSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	assert.Empty(t, TraceID(context.Background()))

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	ctx, span := StartSpan(context.Background(), "Engine.Rebuild", "acme.myshopify.com")
	assert.Len(t, TraceID(ctx), 32)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Engine.Rebuild", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("shop.id", "acme.myshopify.com"))
}
