// Package store persists consent records. Three backends: in-memory (tests,
// embedding), JSON file, and SQLite.
//
// All backends share the fail-soft read contract: a missing, malformed, or
// unreadable record loads as the canonical empty record instead of an error.
// Errors are reserved for genuine I/O failures the engine may want to log.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hazyhaar/consentgate/consent"
)

// DefaultKey is the storage key consent records are filed under. One key,
// one record.
const DefaultKey = "consent_v1"

// Memory is an in-process store. Safe for concurrent use.
type Memory struct {
	mu  sync.Mutex
	rec *consent.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the stored record, or the empty record if none was saved.
func (m *Memory) Load(_ context.Context) (consent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return consent.EmptyRecord(), nil
	}
	return m.rec.Clone(), nil
}

// Save stores a copy of the record.
func (m *Memory) Save(_ context.Context, rec consent.Record) error {
	clone := rec.Clone()
	m.mu.Lock()
	m.rec = &clone
	m.mu.Unlock()
	return nil
}

// Clear removes the stored record.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	return nil
}

// decodeRecord parses a persisted JSON record, failing soft: any parse error
// yields the canonical empty record.
func decodeRecord(data []byte) (consent.Record, bool) {
	var rec consent.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return consent.EmptyRecord(), false
	}
	sanitizeRecord(&rec)
	return rec, true
}

// sanitizeRecord normalises a decoded record in place. Entries with
// unrecognised choice values are dropped rather than letting them poison
// gating decisions.
func sanitizeRecord(rec *consent.Record) {
	if rec.Choices == nil {
		rec.Choices = map[string]consent.Choice{}
	}
	for k, v := range rec.Choices {
		if !v.Valid() {
			delete(rec.Choices, k)
		}
	}
	if rec.Timestamp < 0 {
		rec.Timestamp = 0
	}
}
