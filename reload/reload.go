// Package reload provides a generic "poll a source, detect change, debounce,
// reload" loop. The source yields an opaque token; two reads that return
// different tokens mean "something changed". consentgated uses it to push
// category configuration changes into a running engine without a restart.
//
// Typical usage:
//
//	w := reload.New(reload.FileDigest(path), reload.Options{Interval: time.Second})
//	go w.OnChange(ctx, func() error { return reapplyConfig() })
package reload

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Source reads the current change token. Tokens are compared by equality
// only; a config fingerprint, a file digest, or an mtime string all work.
type Source func(ctx context.Context) (string, error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// action fires. Further changes during the window reset the timer.
	// 0 means fire immediately. Default: 0.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a Source and runs an action when the token changes. Safe for
// concurrent use.
type Watcher struct {
	source Source
	opts   Options

	mu    sync.Mutex
	token string

	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(source Source, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{source: source, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Token returns the last successfully processed token.
func (w *Watcher) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

// OnChange blocks until ctx is cancelled, polling at opts.Interval. When the
// source reports a new token and the debounce window passes without further
// changes, action is called.
//
// If action returns an error the token is NOT advanced, so the action is
// retried on the next poll cycle.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	// Seed the initial token.
	if tok, err := w.source(ctx); err != nil {
		log.Warn("reload: initial check failed", "error", err)
	} else {
		w.setToken(tok)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := ""
	pendingSet := false

	log.Info("reload: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("reload: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.source(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("reload: check failed", "error", err)
				continue
			}
			if cur != w.Token() && (!pendingSet || cur != pending) {
				w.changes.Add(1)
				pending = cur
				pendingSet = true

				if w.opts.Debounce <= 0 {
					w.fire(log, action, pending)
					pendingSet = false
				} else {
					// Restart the timer only when the pending token actually
					// changed, not on every poll cycle.
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("reload: change detected, debouncing", "pending", cur)
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pendingSet {
				w.fire(log, action, pending)
				pendingSet = false
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, token string) {
	log.Info("reload: reloading", "old_token", w.Token(), "new_token", token)
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("reload: action failed", "error", err, "token", token)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))
	w.setToken(token)
	log.Info("reload: complete", "token", token, "duration", elapsed)
}

func (w *Watcher) setToken(tok string) {
	w.mu.Lock()
	w.token = tok
	w.mu.Unlock()
}

// ---------- Built-in sources ----------

// FileDigest returns a Source that hashes the file contents. A missing file
// yields an empty token rather than an error, so deleting the config file
// reads as a change back to "no config".
func FileDigest(path string) Source {
	return func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", fmt.Errorf("reload: read %s: %w", path, err)
		}
		h := sha256.Sum256(data)
		return fmt.Sprintf("%x", h), nil
	}
}
