package graflow

import "time"

// Config holds configuration for a Graflow instance.
type Config struct {
	// RequireAuthentication selects the fallback authorization policy when a
	// flow type's policy reference is empty or cannot be resolved: the
	// authenticated-only policy when true, the allow-any policy when false.
	RequireAuthentication bool

	// RecursionLimit bounds the number of steps a single invocation may run.
	RecursionLimit int

	// NodeCacheTTL is the default TTL for cached node results.
	NodeCacheTTL time.Duration

	// StoreRefreshOnRead renews long-term store item TTLs on read.
	StoreRefreshOnRead bool

	// SweepSchedule is the cron expression for the background TTL reaper.
	// Empty disables the reaper.
	SweepSchedule string

	// CreationRate and ResumeRate are the default throttle rates for the
	// flow_creation and flow_resume scopes, in "N/period" form.
	CreationRate string
	ResumeRate   string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequireAuthentication: true,
		RecursionLimit:        100,
		NodeCacheTTL:          time.Hour,
		StoreRefreshOnRead:    true,
		SweepSchedule:         "@every 1m",
		CreationRate:          "100/hour",
		ResumeRate:            "300/hour",
	}
}
