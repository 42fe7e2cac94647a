package consent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/consentgate/kit"
	"github.com/hazyhaar/consentgate/signal"
)

// Action names for committed mutations. They double as the public event
// names external page scripts observe through the data layer.
const (
	ActionUpdated            = "consent_updated"
	ActionPreferencesSaved   = "preferences_saved"
	ActionAcceptAll          = "accept_all"
	ActionRejectNonEssential = "reject_nonessential"
)

// Store is the persistence contract the engine mutates through. Load fails
// soft: malformed or missing state yields the canonical empty record. Save
// failures are logged by the engine and swallowed; a consent mutation must
// never fail because storage did.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// GateResult counts the scripts a single gating pass newly activated and
// newly deactivated. Counts are per-pass, not cumulative.
type GateResult struct {
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
}

// Gater re-materialises the gated scripts of a document to match a choice
// set. gate.Gate satisfies this.
type Gater interface {
	Apply(choices map[string]Choice) GateResult
}

// Signaler is the dispatch target for committed mutations. signal.Router
// satisfies this. The engine never consumes a return value from it.
type Signaler interface {
	Send(ctx context.Context, u signal.Update) error
}

// Observer is invoked synchronously after every committed mutation with a
// snapshot of the new state. Observers run outside the engine lock and may
// call back into it. A panicking observer is isolated and logged.
type Observer func(Record)

// Engine owns the consent record and is its sole mutator.
type Engine struct {
	mu         sync.Mutex
	store      Store
	gate       Gater
	signals    Signaler
	record     Record
	categories map[string]CategoryConfig
	observers  []Observer
	logger     *slog.Logger
	now        func() int64

	// reloadSuggested is set when a gating pass deactivated something:
	// removing a live script node cannot unload code it already ran, so a
	// page reload is the only way to truly stop it.
	reloadSuggested bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGate attaches a Gater that is re-applied after every committed
// mutation and every reconciliation.
func WithGate(g Gater) Option {
	return func(e *Engine) { e.gate = g }
}

// WithSignals attaches the signal dispatch target.
func WithSignals(s Signaler) Option {
	return func(e *Engine) { e.signals = s }
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = func() int64 { return now().UnixMilli() } }
}

// New constructs an Engine over a store. The record starts empty; call Load
// to read persisted state, then SetCategories with the current configuration.
func New(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		record:     EmptyRecord(),
		categories: map[string]CategoryConfig{},
		logger:     slog.Default(),
		now:        nowMillis,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load reads the persisted record. A store read failure yields the canonical
// empty record so the engine stays usable.
func (e *Engine) Load(ctx context.Context) {
	rec, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("consent: load failed, starting empty", "error", err)
		rec = EmptyRecord()
	}
	if rec.Choices == nil {
		rec.Choices = map[string]Choice{}
	}
	e.mu.Lock()
	e.record = rec
	e.mu.Unlock()
}

// Snapshot returns a defensive copy of the current state.
func (e *Engine) Snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone()
}

// SetCategories is the reconciliation entry point, called whenever the
// category configuration is (re)loaded:
//
//   - configured keys missing from choices are initialised (granted if
//     locked, denied otherwise),
//   - choices for keys no longer configured are pruned,
//   - locked keys are forced to granted (locked status can change between
//     loads, so it is always re-applied).
//
// The result is persisted and gating re-applied unconditionally, since a
// configuration change may re-scope which scripts are gated. Reconciliation
// is not a user mutation: the timestamp is untouched and no signals or
// observers fire.
func (e *Engine) SetCategories(ctx context.Context, configs map[string]CategoryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if configs == nil {
		configs = map[string]CategoryConfig{}
	}
	e.categories = configs

	for key, cfg := range configs {
		if _, ok := e.record.Choices[key]; !ok {
			if cfg.Locked {
				e.record.Choices[key] = Granted
			} else {
				e.record.Choices[key] = Denied
			}
		} else if cfg.Locked {
			e.record.Choices[key] = Granted
		}
	}
	for key := range e.record.Choices {
		if _, ok := configs[key]; !ok {
			delete(e.record.Choices, key)
		}
	}

	e.persistLocked(ctx)
	e.gateLocked()
}

// Set applies a single category choice. It is a no-op returning false when
// the category is not configured, the choice value is invalid, or nothing
// would change. Locked categories are forced to granted regardless of the
// requested value. On an actual change the record is persisted, gating
// re-applied, signals dispatched, and observers notified.
func (e *Engine) Set(ctx context.Context, category string, choice Choice) bool {
	return e.apply(ctx, map[string]Choice{category: choice}, ActionUpdated)
}

// SetMultiple applies a batch of choices with Set semantics per entry.
// Side effects fire at most once for the whole batch, and only if at least
// one entry actually changed.
func (e *Engine) SetMultiple(ctx context.Context, choices map[string]Choice) bool {
	return e.apply(ctx, choices, ActionPreferencesSaved)
}

// GrantAll sets every configured category to granted ("accept all").
func (e *Engine) GrantAll(ctx context.Context) bool {
	e.mu.Lock()
	batch := make(map[string]Choice, len(e.categories))
	for key := range e.categories {
		batch[key] = Granted
	}
	e.mu.Unlock()
	return e.apply(ctx, batch, ActionAcceptAll)
}

// RejectNonEssential sets every unlocked category to denied and leaves
// locked categories granted.
func (e *Engine) RejectNonEssential(ctx context.Context) bool {
	e.mu.Lock()
	batch := make(map[string]Choice, len(e.categories))
	for key, cfg := range e.categories {
		if cfg.Locked {
			batch[key] = Granted
		} else {
			batch[key] = Denied
		}
	}
	e.mu.Unlock()
	return e.apply(ctx, batch, ActionRejectNonEssential)
}

func (e *Engine) apply(ctx context.Context, choices map[string]Choice, action string) bool {
	e.mu.Lock()

	changed := false
	for category, choice := range choices {
		if category == "" || !choice.Valid() {
			continue
		}
		cfg, known := e.categories[category]
		if !known {
			// Unconfigured categories are ungated; setting them is a no-op.
			continue
		}
		if cfg.Locked {
			choice = Granted
		}
		if e.record.Choices[category] == choice {
			continue
		}
		e.record.Choices[category] = choice
		changed = true
	}

	if !changed {
		e.mu.Unlock()
		return false
	}

	e.record.Timestamp = e.now()
	e.persistLocked(ctx)
	e.gateLocked()
	snap := e.record.Clone()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	// Sinks and observers run outside the lock: they are allowed to call
	// back into the engine (Snapshot, VersionMismatch, OnChange) without
	// deadlocking the mutation that triggered them.
	e.dispatch(ctx, action, snap)
	for _, fn := range observers {
		e.invokeObserver(fn, snap)
	}
	return true
}

// UpdateVersion records the acknowledged inventory fingerprint without
// touching choices or the timestamp. Persists only when the value differs.
func (e *Engine) UpdateVersion(ctx context.Context, version string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.Version == version {
		return false
	}
	e.record.Version = version
	e.persistLocked(ctx)
	return true
}

// VersionMismatch reports whether the stored record acknowledges a different
// inventory than current. A visitor who never interacted gets no mismatch;
// they see the initial banner instead of a "cookies changed" notice.
func (e *Engine) VersionMismatch(current string) bool {
	if current == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.record.Interacted() {
		return false
	}
	return e.record.Version != current
}

// OnChange registers an observer. Observers run synchronously after every
// committed mutation, in registration order.
func (e *Engine) OnChange(fn Observer) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// ApplyGating re-runs the script gate against the current choices and
// returns the per-pass counts. Exposed for callers that injected content
// after the last pass; mutations re-gate automatically.
func (e *Engine) ApplyGating() GateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gateLocked()
}

// ShouldReload reports whether the last gating pass deactivated a script,
// suggesting a page reload to fully unload it. The hint is consumed when
// reset is true.
func (e *Engine) ShouldReload(reset bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.reloadSuggested
	if reset {
		e.reloadSuggested = false
	}
	return v
}

// Clear removes the persisted record and resets in-memory state to empty.
// Category configuration is kept; call SetCategories to re-initialise
// choices.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.record = EmptyRecord()
	return nil
}

func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.store.Save(ctx, e.record.Clone()); err != nil {
		e.logger.Warn("consent: save failed", "error", err)
	}
}

func (e *Engine) gateLocked() GateResult {
	if e.gate == nil {
		return GateResult{}
	}
	res := e.gate.Apply(cloneChoices(e.record.Choices))
	e.reloadSuggested = res.Disabled > 0
	return res
}

// dispatch sends the committed state to the signal router. Called without
// the lock held, from a snapshot.
func (e *Engine) dispatch(ctx context.Context, action string, snap Record) {
	if e.signals == nil {
		return
	}
	u := signal.Update{
		Action:  action,
		Source:  kit.Source(ctx),
		Choices: make(map[string]string, len(snap.Choices)),
		Version: snap.Version,
	}
	for k, v := range snap.Choices {
		u.Choices[k] = string(v)
	}
	if err := e.signals.Send(ctx, u); err != nil {
		e.logger.Debug("consent: signal dispatch", "action", action, "error", err)
	}
}

func (e *Engine) invokeObserver(fn Observer, snap Record) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("consent: observer panic", "panic", r)
		}
	}()
	fn(snap)
}

func cloneChoices(in map[string]Choice) map[string]Choice {
	out := make(map[string]Choice, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
