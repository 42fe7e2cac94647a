// Package kit carries cross-cutting request plumbing: context attribution
// and the glue between endpoint functions and the MCP transport.
package kit

import "context"

type contextKey string

const (
	// SourceKey carries the origin of a consent mutation ("banner", "modal",
	// "floating_icon", "api", "mcp"). Signal adapters report it downstream.
	SourceKey contextKey = "consentgate_source"

	// RequestIDKey carries the inbound request ID for log correlation.
	RequestIDKey contextKey = "consentgate_request_id"
)

// WithSource returns a context tagged with a mutation source.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// Source returns the mutation source from the context, or "unknown".
func Source(ctx context.Context) string {
	if v, ok := ctx.Value(SourceKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithRequestID returns a context tagged with a request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request ID from the context, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
