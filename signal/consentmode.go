package signal

import "context"

// Google Consent Mode v2 signal keys.
const (
	SignalAnalyticsStorage  = "analytics_storage"
	SignalAdStorage         = "ad_storage"
	SignalAdUserData        = "ad_user_data"
	SignalAdPersonalization = "ad_personalization"
	SignalSecurityStorage   = "security_storage"
)

// SignalFunc is the injected consent-signal capability (gtag-compatible):
// command is "default" or "update", params the signal map. Resolve it once
// at startup; a nil func means the integration is absent and the sink stays
// silent.
type SignalFunc func(command string, params map[string]string)

// ConsentMode maps category choices onto the Consent Mode v2 signal set.
//
// analytics drives analytics_storage; advertising (falling back to
// marketing) drives the three ad_* signals; security_storage is always
// granted.
type ConsentMode struct {
	enabled bool
	send    SignalFunc
}

// NewConsentMode creates the Consent Mode sink. It only fires when enabled
// and a signal capability was injected.
func NewConsentMode(enabled bool, send SignalFunc) *ConsentMode {
	return &ConsentMode{enabled: enabled, send: send}
}

// SetDefaults emits the page-load default state: everything denied except
// security_storage. Fire once, before any user interaction.
func (c *ConsentMode) SetDefaults() {
	if !c.enabled || c.send == nil {
		return
	}
	c.send("default", map[string]string{
		SignalAdStorage:         "denied",
		SignalAdUserData:        "denied",
		SignalAdPersonalization: "denied",
		SignalAnalyticsStorage:  "denied",
		SignalSecurityStorage:   "granted",
	})
}

// Send emits a consent update derived from the current choices.
func (c *ConsentMode) Send(_ context.Context, u Update) error {
	if !c.enabled || c.send == nil {
		return nil
	}

	analytics := choiceOrDenied(u.Choices, "analytics")
	advertising, ok := u.Choices["advertising"]
	if !ok || advertising == "" {
		advertising = choiceOrDenied(u.Choices, "marketing")
	}

	c.send("update", map[string]string{
		SignalSecurityStorage:   "granted",
		SignalAnalyticsStorage:  analytics,
		SignalAdStorage:         advertising,
		SignalAdUserData:        advertising,
		SignalAdPersonalization: advertising,
	})
	return nil
}

// Close is a no-op.
func (c *ConsentMode) Close() error { return nil }

func choiceOrDenied(choices map[string]string, key string) string {
	if v, ok := choices[key]; ok && v != "" {
		return v
	}
	return "denied"
}
