package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []Update
	err     error
	panics  bool
}

func (s *recordingSink) Send(_ context.Context, u Update) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func update() Update {
	return Update{
		Action:  "consent_updated",
		Source:  "banner",
		Choices: map[string]string{"necessary": "granted", "analytics": "denied"},
		Version: "v1",
	}
}

func TestRouterDeliversToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	r := NewRouter(nil, a, b)

	if err := r.Send(context.Background(), update()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both sinks hit, got %d/%d", a.count(), b.count())
	}
}

func TestRouterIsolatesFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	healthy := &recordingSink{}
	r := NewRouter(nil, failing, healthy)

	err := r.Send(context.Background(), update())
	if err == nil {
		t.Fatal("expected first error returned")
	}
	if healthy.count() != 1 {
		t.Fatal("healthy sink should still receive the update")
	}
}

func TestRouterRecoversPanickingSink(t *testing.T) {
	panicking := &recordingSink{panics: true}
	healthy := &recordingSink{}
	r := NewRouter(nil, panicking, healthy)

	err := r.Send(context.Background(), update())
	if err == nil {
		t.Fatal("expected panic surfaced as error")
	}
	if healthy.count() != 1 {
		t.Fatal("healthy sink should still receive the update")
	}
}

func TestDataLayerAppendsEvents(t *testing.T) {
	d := NewDataLayer("cg_consent_update")

	for i := 0; i < 3; i++ {
		if err := d.Send(context.Background(), update()); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	events := d.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "cg_consent_update" || ev.Action != "consent_updated" || ev.Source != "banner" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Categories["necessary"] != "granted" {
		t.Fatalf("expected category map carried, got %+v", ev.Categories)
	}
}

func TestDataLayerDisabledWithoutEventName(t *testing.T) {
	d := NewDataLayer("")
	if err := d.Send(context.Background(), update()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if d.Len() != 0 {
		t.Fatal("expected no events for empty event name")
	}
}

func TestDataLayerPushCallback(t *testing.T) {
	var got []DataLayerEvent
	d := NewDataLayer("ev", WithPushCallback(func(ev DataLayerEvent) { got = append(got, ev) }))

	d.Send(context.Background(), update())
	if len(got) != 1 || got[0].Event != "ev" {
		t.Fatalf("expected callback invoked once, got %+v", got)
	}
}

func TestBeaconPostsPayload(t *testing.T) {
	received := make(chan beaconPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p beaconPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		received <- p
	}))
	defer srv.Close()

	b := NewBeacon(BeaconConfig{
		Enabled:   true,
		EventName: "cookie_consent",
		Endpoint:  srv.URL,
		PageURL:   "https://example.com/page",
		Domain:    "example.com",
	})

	if err := b.Send(context.Background(), update()); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case p := <-received:
		if p.Name != "cookie_consent" || p.Domain != "example.com" {
			t.Fatalf("unexpected payload %+v", p)
		}
		if p.Props.Categories != "analytics=denied;necessary=granted" {
			t.Fatalf("unexpected categories serialization %q", p.Props.Categories)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon never arrived")
	}
}

func TestBeaconDisabledSendsNothing(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	b := NewBeacon(BeaconConfig{Enabled: false, Endpoint: srv.URL})
	b.Send(context.Background(), update())
	time.Sleep(50 * time.Millisecond)
	if hits != 0 {
		t.Fatal("disabled beacon must not post")
	}
}

func TestBeaconNetworkFailureNeverSurfaces(t *testing.T) {
	b := NewBeacon(BeaconConfig{Enabled: true, Endpoint: "http://127.0.0.1:1"})
	if err := b.Send(context.Background(), update()); err != nil {
		t.Fatalf("beacon must swallow network failures, got %v", err)
	}
}

func TestConsentModeMapping(t *testing.T) {
	tests := []struct {
		name        string
		choices     map[string]string
		analytics   string
		advertising string
	}{
		{"all denied", map[string]string{"analytics": "denied", "marketing": "denied"}, "denied", "denied"},
		{"analytics only", map[string]string{"analytics": "granted", "marketing": "denied"}, "granted", "denied"},
		{"marketing fallback", map[string]string{"marketing": "granted"}, "denied", "granted"},
		{"advertising wins", map[string]string{"advertising": "granted", "marketing": "denied"}, "denied", "granted"},
		{"explicit advertising denial beats marketing", map[string]string{"advertising": "denied", "marketing": "granted"}, "denied", "denied"},
		{"empty map", map[string]string{}, "denied", "denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCmd string
			var gotParams map[string]string
			c := NewConsentMode(true, func(cmd string, params map[string]string) {
				gotCmd, gotParams = cmd, params
			})

			c.Send(context.Background(), Update{Choices: tt.choices})

			if gotCmd != "update" {
				t.Fatalf("expected update command, got %q", gotCmd)
			}
			if gotParams[SignalSecurityStorage] != "granted" {
				t.Fatal("security_storage must always be granted")
			}
			if gotParams[SignalAnalyticsStorage] != tt.analytics {
				t.Fatalf("analytics_storage = %q, want %q", gotParams[SignalAnalyticsStorage], tt.analytics)
			}
			for _, key := range []string{SignalAdStorage, SignalAdUserData, SignalAdPersonalization} {
				if gotParams[key] != tt.advertising {
					t.Fatalf("%s = %q, want %q", key, gotParams[key], tt.advertising)
				}
			}
		})
	}
}

func TestConsentModeSetDefaults(t *testing.T) {
	var gotCmd string
	var gotParams map[string]string
	c := NewConsentMode(true, func(cmd string, params map[string]string) {
		gotCmd, gotParams = cmd, params
	})

	c.SetDefaults()

	if gotCmd != "default" {
		t.Fatalf("expected default command, got %q", gotCmd)
	}
	if gotParams[SignalSecurityStorage] != "granted" {
		t.Fatal("security_storage default must be granted")
	}
	for _, key := range []string{SignalAdStorage, SignalAdUserData, SignalAdPersonalization, SignalAnalyticsStorage} {
		if gotParams[key] != "denied" {
			t.Fatalf("%s default = %q, want denied", key, gotParams[key])
		}
	}
}

func TestConsentModeSilentWithoutCapability(t *testing.T) {
	c := NewConsentMode(true, nil)
	c.SetDefaults()
	if err := c.Send(context.Background(), update()); err != nil {
		t.Fatalf("nil capability must be a no-op, got %v", err)
	}

	fired := false
	d := NewConsentMode(false, func(string, map[string]string) { fired = true })
	d.Send(context.Background(), update())
	if fired {
		t.Fatal("disabled sink must not fire")
	}
}

func TestThirdPartySyncTaxonomy(t *testing.T) {
	calls := map[string]string{}
	s := NewThirdPartySync(true, func(category, status string) { calls[category] = status })

	s.Send(context.Background(), Update{Choices: map[string]string{
		"necessary":       "granted",
		"analytics":       "granted",
		"personalization": "denied",
		"marketing":       "denied",
		"custom_vendor":   "granted", // unmapped, skipped
	}})

	want := map[string]string{
		"functional":  "allow",
		"statistics":  "allow",
		"preferences": "deny",
		"marketing":   "deny",
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d sync calls, got %d: %+v", len(want), len(calls), calls)
	}
	for k, v := range want {
		if calls[k] != v {
			t.Fatalf("sync %s = %q, want %q", k, calls[k], v)
		}
	}
}

func TestThirdPartySyncSilentWithoutCapability(t *testing.T) {
	s := NewThirdPartySync(true, nil)
	if err := s.Send(context.Background(), update()); err != nil {
		t.Fatalf("nil capability must be a no-op, got %v", err)
	}
}

func TestSerializeCategoriesStableOrder(t *testing.T) {
	got := serializeCategories(map[string]string{"b": "denied", "a": "granted", "c": "granted"})
	if got != "a=granted;b=denied;c=granted" {
		t.Fatalf("unexpected serialization %q", got)
	}
	if serializeCategories(nil) != "" {
		t.Fatal("empty map should serialize to empty string")
	}
}
