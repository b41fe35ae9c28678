package config

import "time"

// RuntimeConfig holds all hot-updatable global settings.
// These are persisted in the database and served via GET /system/config.
type RuntimeConfig struct {
	// Health scoring
	ProbeAlpha             float64 `json:"probe_alpha"`
	DeactivationThreshold  int     `json:"deactivation_threshold"`
	MinConsecutiveFailures int     `json:"min_consecutive_failures"`
	DefaultHealthScore     int     `json:"default_health_score"`

	// Capacity: per-tier node cap, with a fleet-wide fallback for tiers
	// not listed.
	MaxNodesPerDomain        map[int]int `json:"max_nodes_per_domain"`
	DefaultMaxNodesPerDomain int         `json:"default_max_nodes_per_domain"`

	// Probe
	ProbeTimeout      Duration `json:"probe_timeout"`
	ProbeInterval     Duration `json:"probe_interval"`
	ProbeSweepSchedule string  `json:"probe_sweep_schedule"`

	// Subscription
	SubscriptionFlow string `json:"subscription_flow"`

	// Key material
	ShortIDCount int `json:"short_id_count"`
}

// CapacityFor returns the node cap for a tier. Zero or negative means
// unlimited.
func (c *RuntimeConfig) CapacityFor(tier int) int {
	if n, ok := c.MaxNodesPerDomain[tier]; ok {
		return n
	}
	return c.DefaultMaxNodesPerDomain
}

// Alpha returns the EMA weight, falling back to 0.2 when out of range.
func (c *RuntimeConfig) Alpha() float64 {
	if c.ProbeAlpha <= 0 || c.ProbeAlpha > 1 {
		return 0.2
	}
	return c.ProbeAlpha
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with defaults.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ProbeAlpha:             0.2,
		DeactivationThreshold:  20,
		MinConsecutiveFailures: 3,
		DefaultHealthScore:     70,

		MaxNodesPerDomain:        map[int]int{},
		DefaultMaxNodesPerDomain: 5,

		ProbeTimeout:       Duration(10 * time.Second),
		ProbeInterval:      Duration(5 * time.Minute),
		ProbeSweepSchedule: "*/15 * * * *",

		SubscriptionFlow: "xtls-rprx-vision",

		ShortIDCount: 2,
	}
}
