package model

// UsageUpdateMode selects which of weight/length the Usage Tracker prefers
// when reconciling filament use (§4.9, §9 open question on fallback
// policy).
type UsageUpdateMode string

const (
	UsageUpdateWeight UsageUpdateMode = "weight"
	UsageUpdateLength UsageUpdateMode = "length"
)

// AppConfig is the complete process-wide configuration held by the Config
// Store (C1) and persisted as config.json.
type AppConfig struct {
	ForceLegacyAPI      bool            `json:"forceLegacyAPI"`
	ProbeTimeoutMs      int             `json:"probeTimeoutMs"`
	ProbeRetries        int             `json:"probeRetries"`
	ActiveIntervalMs    int             `json:"activeIntervalMs"`
	InactiveIntervalMs  int             `json:"inactiveIntervalMs"`
	MaxPollRetries      int             `json:"maxPollRetries"`
	BaseRetryMs         int             `json:"baseRetryMs"`
	CooldownThresholdC  float64         `json:"cooldownThresholdC"`
	CooldownIntervalMs  int             `json:"cooldownIntervalMs"`
	UsageTrackingEnabled bool           `json:"usageTrackingEnabled"`
	UsageUpdateMode     UsageUpdateMode `json:"usageUpdateMode"`
	WebUIPort           int             `json:"webUIPort"`
	WebUIPassword       string          `json:"webUIPassword"`
}

// DefaultAppConfig returns the defaults named throughout §4 (probe
// timeout/retries, polling cadences, cooldown threshold/interval).
func DefaultAppConfig() AppConfig {
	return AppConfig{
		ForceLegacyAPI:       false,
		ProbeTimeoutMs:       10_000,
		ProbeRetries:         3,
		ActiveIntervalMs:     3000,
		InactiveIntervalMs:   3000,
		MaxPollRetries:       3,
		BaseRetryMs:          1000,
		CooldownThresholdC:   35,
		CooldownIntervalMs:   10_000,
		UsageTrackingEnabled: true,
		UsageUpdateMode:      UsageUpdateWeight,
		WebUIPort:            8080,
	}
}
