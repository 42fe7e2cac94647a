package signal

import "context"

// SyncFunc is the injected third-party consent-sync capability. It receives
// one call per mapped category with the external category name and "allow"
// or "deny". Resolve it once at startup; nil means the integration is absent.
type SyncFunc func(category, status string)

// thirdPartyTaxonomy maps this system's category keys onto the external
// consent taxonomy. Unmapped categories are not synced.
var thirdPartyTaxonomy = map[string]string{
	"functional":      "functional",
	"necessary":       "functional",
	"security":        "functional",
	"analytics":       "statistics",
	"personalization": "preferences",
	"marketing":       "marketing",
}

// ThirdPartySync pushes choices to an external consent API under its own
// taxonomy.
type ThirdPartySync struct {
	enabled bool
	sync    SyncFunc
}

// NewThirdPartySync creates the sync sink. It only fires when enabled and a
// sync capability was injected.
func NewThirdPartySync(enabled bool, sync SyncFunc) *ThirdPartySync {
	return &ThirdPartySync{enabled: enabled, sync: sync}
}

// Send translates each mapped category to allow/deny and calls the sync
// capability once per category.
func (t *ThirdPartySync) Send(_ context.Context, u Update) error {
	if !t.enabled || t.sync == nil {
		return nil
	}
	for category, status := range u.Choices {
		external, ok := thirdPartyTaxonomy[category]
		if !ok {
			continue
		}
		mapped := "deny"
		if status == "granted" {
			mapped = "allow"
		}
		t.sync(external, mapped)
	}
	return nil
}

// Close is a no-op.
func (t *ThirdPartySync) Close() error { return nil }
