package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/placemaster/internal/logging"
)

// TracerName is the instrumentation scope used by all placemaster spans
const TracerName = "github.com/ppiankov/placemaster"

// Tracer returns the placemaster tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// TracingConfig configures InitTracing
type TracingConfig struct {
	ServiceName string
	Version     string
	Writer      io.Writer // Span export destination; nil = stderr
}

// InitTracing installs an SDK tracer provider exporting spans as JSON and
// returns its shutdown function. Without this call the global no-op provider is used.
func InitTracing(ctx context.Context, log *logging.Logger, cfg TracingConfig) (func(context.Context) error, error) {
	log = logging.OrNop(log)

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "placemaster"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", strings.TrimSpace(cfg.Version)),
		),
	)
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("otel tracing initialized", "service", serviceName)
	return tp.Shutdown, nil
}
