// Package correlation propagates request identifiers through contexts so
// log lines from the HTTP path and the background jobs can be joined.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type correlationKey struct{}

// FromContext fetches the correlation ID, or empty when absent.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// WithID sets the correlation ID onto the context.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// Ensure guarantees a correlation ID on the context, minting one when missing.
func Ensure(ctx context.Context) (context.Context, string) {
	id := FromContext(ctx)
	if id == "" {
		id = ulid.Make().String()
	}
	return WithID(ctx, id), id
}

// WithRemoteSpan seeds the context with a remote parent span when the caller
// forwarded valid trace identifiers.
func WithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, parent)
}
