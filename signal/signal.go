// Package signal fans committed consent decisions out to downstream
// protocols: a tag-manager data layer, an analytics beacon, Google Consent
// Mode v2, and a third-party consent-sync API.
//
// Every adapter is best-effort. The Router isolates each sink: an error or
// panic in one never reaches the engine or blocks the others.
package signal

import (
	"context"
	"fmt"
	"log/slog"
)

// Update is the payload dispatched after every committed mutation: the full
// category map plus the action that caused it and the surface it came from.
type Update struct {
	Action  string            `json:"action"`
	Source  string            `json:"source"`
	Choices map[string]string `json:"choices"`
	Version string            `json:"version"`
}

// Sink delivers an Update to one downstream protocol.
type Sink interface {
	Send(ctx context.Context, u Update) error
	Close() error
}

// Router fans out updates to all configured sinks. One sink failing, by
// error or by panic, does not block the others; failures are logged and the
// first error is returned for callers that care (the engine does not).
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Send delivers the update to every sink.
func (r *Router) Send(ctx context.Context, u Update) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := r.send(ctx, s, u); err != nil {
			r.logger.Warn("signal: send failed", "sink", fmt.Sprintf("%T", s), "action", u.Action, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) send(ctx context.Context, s Sink, u Update) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("signal: sink panic: %v", p)
		}
	}()
	return s.Send(ctx, u)
}

// Close closes all sinks, returning the first error.
func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
