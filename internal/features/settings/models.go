// Package settings keeps the runtime switches admins change from the panel
// (service on/off, maintenance mode, coin price) and the global counters.
package settings

// Settings is stored under settings:service.
type Settings struct {
	// ServiceEnabled gates uploads for non-admins. nil means never set (enabled).
	ServiceEnabled *bool `json:"service_enabled,omitempty"`
	// UpdateMode answers every non-admin with a maintenance notice.
	UpdateMode bool `json:"update_mode"`
	// PricePerCoin is the fiat price of one coin shown in the purchase flow.
	PricePerCoin int64 `json:"price_per_coin"`
}

// Enabled reports whether the service accepts uploads.
func (s Settings) Enabled() bool {
	return s.ServiceEnabled == nil || *s.ServiceEnabled
}

// Stats is stored under stats:base.
type Stats struct {
	Updates   int64 `json:"updates"`
	Users     int64 `json:"users"`
	Files     int64 `json:"files"`
	Downloads int64 `json:"downloads"`
}

// Counter names accepted by Service.Bump.
type Counter string

const (
	CounterUpdates   Counter = "updates"
	CounterUsers     Counter = "users"
	CounterFiles     Counter = "files"
	CounterDownloads Counter = "downloads"
)
