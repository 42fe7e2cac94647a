package store

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/hazyhaar/consentgate/consent"
)

func testSQLite(t *testing.T, opts ...SQLiteOption) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLite(db, opts...)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)

	rec, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	assertRecordEqual(t, rec, consent.EmptyRecord())

	if err := s.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertRecordEqual(t, rec, sampleRecord())
}

func TestSQLiteUpsert(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)

	s.Save(ctx, sampleRecord())

	updated := sampleRecord()
	updated.Choices["analytics"] = consent.Granted
	updated.Timestamp = 1690000001000
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("second save: %v", err)
	}

	rec, _ := s.Load(ctx)
	assertRecordEqual(t, rec, updated)
}

func TestSQLiteClear(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)
	s.Save(ctx, sampleRecord())

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rec, _ := s.Load(ctx)
	assertRecordEqual(t, rec, consent.EmptyRecord())
}

func TestSQLiteStorageKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	a, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSQLite(db, WithStorageKey("consent_v2"))
	if err != nil {
		t.Fatal(err)
	}

	a.Save(ctx, sampleRecord())

	rec, _ := b.Load(ctx)
	assertRecordEqual(t, rec, consent.EmptyRecord())

	rec, _ = a.Load(ctx)
	assertRecordEqual(t, rec, sampleRecord())
}

func TestSQLiteMalformedChoicesLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)

	if _, err := s.db.Exec(
		`INSERT INTO consent_records (storage_key, version, choices, timestamp) VALUES (?, 'v1', '{broken', 42)`,
		DefaultKey); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("malformed choices must fail soft, got %v", err)
	}
	assertRecordEqual(t, rec, consent.EmptyRecord())
}
