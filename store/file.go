package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/consentgate/consent"
)

// File persists the record as a JSON file. Writes go through a temp file and
// rename so a crash mid-write never leaves a truncated record behind.
type File struct {
	path string
}

// NewFile creates a file-backed store at path. The file is created on first
// Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the record. Missing file or malformed JSON loads as the empty
// record.
func (f *File) Load(_ context.Context) (consent.Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return consent.EmptyRecord(), nil
		}
		return consent.EmptyRecord(), fmt.Errorf("store: read %s: %w", f.path, err)
	}
	rec, _ := decodeRecord(data)
	return rec, nil
}

// Save writes the record atomically.
func (f *File) Save(_ context.Context, rec consent.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".consent-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Clear removes the file. A missing file is not an error.
func (f *File) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", f.path, err)
	}
	return nil
}
