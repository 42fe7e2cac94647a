// Package config loads and validates the consentgate configuration: the
// category inventory the engine reconciles against, the integration switches
// for the signal adapters, and the service settings.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/consentgate/consent"
	"github.com/hazyhaar/consentgate/signal"
)

// Category is one entry of the consent inventory. Key is the identifier
// scripts are gated by; Label and Description are banner presentation and may
// carry limited markup. Locked categories are always granted and not
// user-toggleable.
type Category struct {
	Key         string `yaml:"key" json:"key"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
	Locked      bool   `yaml:"locked" json:"locked"`
}

// Integrations holds the signal adapter switches.
type Integrations struct {
	ConsentMode    bool                `yaml:"consent_mode"`
	Beacon         signal.BeaconConfig `yaml:"beacon"`
	DataLayerEvent string              `yaml:"datalayer_event"`
	ThirdPartySync bool                `yaml:"third_party_sync"`
}

// Config is the root configuration.
type Config struct {
	Listen     string `yaml:"listen"`
	DBPath     string `yaml:"db_path"`
	StorageKey string `yaml:"storage_key"`

	// InventoryVersion pins the fingerprint visitors acknowledge. When empty
	// the fingerprint is derived from the category set, so any category
	// change surfaces as a version mismatch.
	InventoryVersion string `yaml:"inventory_version"`

	Categories   []Category   `yaml:"categories"`
	Integrations Integrations `yaml:"integrations"`
}

func defaultCategories() []Category {
	return []Category{
		{Key: "necessary", Label: "Necessary", Locked: true},
		{Key: "analytics", Label: "Analytics"},
		{Key: "marketing", Label: "Marketing"},
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8480"
	}
	if c.DBPath == "" {
		c.DBPath = "consentgate.db"
	}
	if c.StorageKey == "" {
		c.StorageKey = "consent_v1"
	}
	if c.Integrations.DataLayerEvent == "" {
		c.Integrations.DataLayerEvent = "consent_update"
	}
	if len(c.Categories) == 0 {
		c.Categories = defaultCategories()
	}
}

// sanitize strips dangerous markup from the display fields. Labels are plain
// text; descriptions keep user-generated-content markup (links, emphasis).
func (c *Config) sanitize() {
	strict := bluemonday.StrictPolicy()
	ugc := bluemonday.UGCPolicy()
	for i := range c.Categories {
		c.Categories[i].Label = strings.TrimSpace(strict.Sanitize(c.Categories[i].Label))
		c.Categories[i].Description = strings.TrimSpace(ugc.Sanitize(c.Categories[i].Description))
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Key == "" {
			return fmt.Errorf("config: category with empty key")
		}
		if seen[cat.Key] {
			return fmt.Errorf("config: duplicate category %q", cat.Key)
		}
		seen[cat.Key] = true
	}
	return nil
}

// Finalize applies defaults, sanitizes display fields, and validates.
// Load calls it; callers constructing a Config in code call it themselves.
func (c *Config) Finalize() error {
	c.applyDefaults()
	c.sanitize()
	return c.validate()
}

// Load reads a YAML config file. A missing path yields the default
// configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CategoryConfigs converts the inventory into the engine's reconciliation
// input.
func (c *Config) CategoryConfigs() map[string]consent.CategoryConfig {
	out := make(map[string]consent.CategoryConfig, len(c.Categories))
	for _, cat := range c.Categories {
		out[cat.Key] = consent.CategoryConfig{Locked: cat.Locked}
	}
	return out
}

// Fingerprint returns the SHA-256 hex digest of the canonical category set
// (sorted key plus locked flag). Display fields do not participate: renaming
// a label is not a consent-relevant change.
func (c *Config) Fingerprint() string {
	lines := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		lines = append(lines, fmt.Sprintf("%s|%t", cat.Key, cat.Locked))
	}
	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return fmt.Sprintf("%x", h)
}

// Version is the inventory fingerprint visitors acknowledge: the pinned
// InventoryVersion when set, the derived Fingerprint otherwise.
func (c *Config) Version() string {
	if c.InventoryVersion != "" {
		return c.InventoryVersion
	}
	return c.Fingerprint()
}
