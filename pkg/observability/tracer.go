// Package observability provides thin OpenTelemetry helpers: a tracer
// accessor, span name constants, and process-level setup with defined
// teardown. Exporter wiring is left to the deployment; by default spans
// go to an in-process no-export provider.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the engine.
const (
	SpanToolExecution = "aiengine.tool.execute"
	SpanLLMRequest    = "aiengine.llm.request"
	SpanRetrieval     = "aiengine.retrieval.query"
	SpanSyncEntity    = "aiengine.sync.entity"
)

// Common attribute keys.
const (
	AttrToolName       = "tool.name"
	AttrLLMModel       = "llm.model"
	AttrOrganizationID = "org.id"
	AttrSourceType     = "sync.source_type"
)

// Init installs a tracer provider for the process and returns a
// shutdown function. Initialized once at startup.
func Init() func(context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down tracer provider: %w", err)
		}
		return nil
	}
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
