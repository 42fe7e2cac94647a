// Package consent implements the consent engine: the single source of truth
// for a visitor's category choices, their persistence, and the fan-out of
// committed decisions to script gating and signal adapters.
//
// The engine is an explicitly constructed instance; there is no package
// global. Construct one per consent scope (typically one per site visitor
// context), hand it a store.Store, and wire gating and signals through
// options:
//
//	eng := consent.New(st,
//		consent.WithLogger(logger),
//		consent.WithSignals(router),
//	)
//	eng.Load(ctx)
//	eng.SetCategories(ctx, cfg.CategoryConfigs())
package consent

import "time"

// Choice is a per-category grant state.
type Choice string

const (
	Granted Choice = "granted"
	Denied  Choice = "denied"
)

// Valid reports whether c is one of the two recognised choice values.
func (c Choice) Valid() bool {
	return c == Granted || c == Denied
}

// CategoryConfig is the per-category configuration the engine cares about.
// Locked categories are always granted and not user-toggleable. Display
// fields (label, description) are presentation concerns and live in config.
type CategoryConfig struct {
	Locked bool `json:"locked" yaml:"locked"`
}

// Record is the persisted consent entity.
//
// Version is the last-acknowledged inventory fingerprint, opaque and
// compared by equality only. Timestamp is epoch milliseconds of the last
// actual mutation; zero means the visitor has never interacted.
type Record struct {
	Version   string            `json:"version"`
	Choices   map[string]Choice `json:"choices"`
	Timestamp int64             `json:"timestamp"`
}

// EmptyRecord returns the canonical empty record. Stores return it for any
// missing, malformed, or unreadable persisted state.
func EmptyRecord() Record {
	return Record{Choices: map[string]Choice{}}
}

// Clone returns a deep copy. Snapshots handed to callers and observers are
// clones so internal state cannot be mutated through them.
func (r Record) Clone() Record {
	out := Record{Version: r.Version, Timestamp: r.Timestamp, Choices: make(map[string]Choice, len(r.Choices))}
	for k, v := range r.Choices {
		out.Choices[k] = v
	}
	return out
}

// Interacted reports whether the record reflects at least one committed
// mutation.
func (r Record) Interacted() bool {
	return r.Timestamp != 0
}

// nowMillis is the timestamp source; the engine overrides it in tests via
// WithClock.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
