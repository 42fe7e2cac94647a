package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// BeaconConfig configures the analytics beacon.
type BeaconConfig struct {
	Enabled   bool   `yaml:"enabled"`
	EventName string `yaml:"event_name"`
	Endpoint  string `yaml:"endpoint"`
	PageURL   string `yaml:"page_url"`
	Domain    string `yaml:"domain"`
}

const (
	defaultBeaconEvent    = "cookie_consent"
	defaultBeaconEndpoint = "https://plausible.io/api/event"
	beaconTimeout         = 5 * time.Second
)

// Beacon sends a fire-and-forget analytics event per committed mutation.
// Send never returns an error and never blocks on the network: the POST runs
// in its own goroutine with its own deadline, detached from the mutation's
// context. Worst case the event is lost, which is the accepted trade.
type Beacon struct {
	cfg    BeaconConfig
	client *http.Client
	logger *slog.Logger
}

// BeaconOption configures a Beacon.
type BeaconOption func(*Beacon)

// WithBeaconClient overrides the HTTP client (tests).
func WithBeaconClient(c *http.Client) BeaconOption {
	return func(b *Beacon) { b.client = c }
}

// WithBeaconLogger sets a custom logger.
func WithBeaconLogger(l *slog.Logger) BeaconOption {
	return func(b *Beacon) { b.logger = l }
}

// NewBeacon creates a beacon sink. Defaults: the Plausible events endpoint
// and event name "cookie_consent".
func NewBeacon(cfg BeaconConfig, opts ...BeaconOption) *Beacon {
	if cfg.EventName == "" {
		cfg.EventName = defaultBeaconEvent
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultBeaconEndpoint
	}
	b := &Beacon{
		cfg:    cfg,
		client: &http.Client{Timeout: beaconTimeout},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type beaconPayload struct {
	Name   string       `json:"name"`
	URL    string       `json:"url"`
	Domain string       `json:"domain"`
	Props  beaconProps  `json:"props"`
}

type beaconProps struct {
	Action     string `json:"action"`
	Source     string `json:"source"`
	Categories string `json:"categories"`
}

// Send fires the beacon asynchronously. Always returns nil.
func (b *Beacon) Send(_ context.Context, u Update) error {
	if !b.cfg.Enabled {
		return nil
	}

	payload := beaconPayload{
		Name:   b.cfg.EventName,
		URL:    b.cfg.PageURL,
		Domain: b.cfg.Domain,
		Props: beaconProps{
			Action:     u.Action,
			Source:     u.Source,
			Categories: serializeCategories(u.Choices),
		},
	}

	go b.post(payload)
	return nil
}

func (b *Beacon) post(payload beaconPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("beacon: marshal", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		b.logger.Warn("beacon: new request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("beacon: send failed", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		b.logger.Debug("beacon: bad status", "status", resp.StatusCode)
	}
}

// Close is a no-op; in-flight beacons finish or time out on their own.
func (b *Beacon) Close() error { return nil }

// serializeCategories renders the category map as "key=value;key=value" with
// keys sorted for a stable wire form.
func serializeCategories(choices map[string]string) string {
	keys := make([]string, 0, len(choices))
	for k := range choices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(choices[k])
	}
	return sb.String()
}
