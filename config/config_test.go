package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consentgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8480" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.StorageKey != "consent_v1" {
		t.Fatalf("storage key = %q", cfg.StorageKey)
	}
	if cfg.Integrations.DataLayerEvent != "consent_update" {
		t.Fatalf("datalayer event = %q", cfg.Integrations.DataLayerEvent)
	}
	if len(cfg.Categories) != 3 {
		t.Fatalf("default categories = %d", len(cfg.Categories))
	}
	if cfg.Categories[0].Key != "necessary" || !cfg.Categories[0].Locked {
		t.Fatal("first default category must be locked necessary")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
db_path: /tmp/cg.db
inventory_version: pinned-v3
categories:
  - key: necessary
    label: Strictly necessary
    locked: true
  - key: analytics
    label: Analytics
integrations:
  consent_mode: true
  datalayer_event: occ_consent
  beacon:
    enabled: true
    domain: example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.DBPath != "/tmp/cg.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Integrations.ConsentMode || !cfg.Integrations.Beacon.Enabled {
		t.Fatal("integration flags not parsed")
	}
	if cfg.Integrations.DataLayerEvent != "occ_consent" {
		t.Fatalf("datalayer event = %q", cfg.Integrations.DataLayerEvent)
	}
	if cfg.Version() != "pinned-v3" {
		t.Fatalf("version = %q", cfg.Version())
	}

	configs := cfg.CategoryConfigs()
	if len(configs) != 2 {
		t.Fatalf("category configs = %d", len(configs))
	}
	if !configs["necessary"].Locked || configs["analytics"].Locked {
		t.Fatalf("locked flags wrong: %+v", configs)
	}
}

func TestLoadRejectsBadInventory(t *testing.T) {
	for name, content := range map[string]string{
		"empty key": "categories:\n  - label: Oops\n",
		"duplicate": "categories:\n  - key: analytics\n  - key: analytics\n",
	} {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSanitizeDisplayFields(t *testing.T) {
	path := writeConfig(t, `
categories:
  - key: analytics
    label: "Analytics <script>alert(1)</script>"
    description: "See our <a href=\"https://example.com/privacy\">policy</a> <script>x()</script>"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cat := cfg.Categories[0]
	if strings.Contains(cat.Label, "<") {
		t.Fatalf("label must be plain text, got %q", cat.Label)
	}
	if strings.Contains(cat.Description, "<script") {
		t.Fatalf("description must drop scripts, got %q", cat.Description)
	}
	if !strings.Contains(cat.Description, "<a") {
		t.Fatalf("description must keep links, got %q", cat.Description)
	}
}

func TestFingerprint(t *testing.T) {
	a := &Config{Categories: []Category{
		{Key: "analytics"},
		{Key: "necessary", Locked: true},
	}}
	b := &Config{Categories: []Category{
		{Key: "necessary", Locked: true},
		{Key: "analytics"},
	}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint must be order-independent")
	}
	if len(a.Fingerprint()) != 64 {
		t.Fatalf("fingerprint length = %d", len(a.Fingerprint()))
	}

	c := &Config{Categories: []Category{
		{Key: "necessary", Locked: true},
		{Key: "analytics", Label: "renamed"},
	}}
	if a.Fingerprint() != c.Fingerprint() {
		t.Fatal("display fields must not change the fingerprint")
	}

	d := &Config{Categories: []Category{
		{Key: "necessary", Locked: true},
		{Key: "analytics"},
		{Key: "marketing"},
	}}
	if a.Fingerprint() == d.Fingerprint() {
		t.Fatal("adding a category must change the fingerprint")
	}

	e := &Config{Categories: []Category{
		{Key: "analytics", Locked: true},
		{Key: "necessary", Locked: true},
	}}
	if a.Fingerprint() == e.Fingerprint() {
		t.Fatal("locking a category must change the fingerprint")
	}
}

func TestVersionFallsBackToFingerprint(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Finalize(); err != nil {
		t.Fatal(err)
	}
	if cfg.Version() != cfg.Fingerprint() {
		t.Fatal("unset inventory version must fall back to the fingerprint")
	}
}
