// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	VeilPort      int

	// API
	APIMaxBodyBytes int

	// Probe
	ProbeConcurrency int

	// Seeding
	SeedDomainsFile string

	// GeoIP
	GeoIPDBPath string

	// Auth
	AdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("VEIL_STATE_DIR", "/var/lib/veil")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("VEIL_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.VeilPort = envInt("VEIL_PORT", 2290, &errs)

	// --- API ---
	cfg.APIMaxBodyBytes = envInt("VEIL_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Probe ---
	cfg.ProbeConcurrency = envInt("VEIL_PROBE_CONCURRENCY", 64, &errs)

	// --- Seeding (optional; empty disables the import) ---
	cfg.SeedDomainsFile = envStr("VEIL_SEED_DOMAINS_FILE", "")

	// --- GeoIP (optional; empty disables country annotation) ---
	cfg.GeoIPDBPath = envStr("VEIL_GEOIP_DB_PATH", "")

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("VEIL_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "VEIL_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "VEIL_LISTEN_ADDRESS must not be empty")
	}
	validatePort("VEIL_PORT", cfg.VeilPort, &errs)
	validatePositive("VEIL_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("VEIL_PROBE_CONCURRENCY", cfg.ProbeConcurrency, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// ValidateRuntimeConfig checks a hot-updatable config before it is accepted.
func ValidateRuntimeConfig(cfg *RuntimeConfig) error {
	var errs []string

	if cfg.ProbeAlpha <= 0 || cfg.ProbeAlpha > 1 {
		errs = append(errs, fmt.Sprintf("probe_alpha: must be in (0,1], got %v", cfg.ProbeAlpha))
	}
	if cfg.DeactivationThreshold < 0 || cfg.DeactivationThreshold > 100 {
		errs = append(errs, fmt.Sprintf("deactivation_threshold: must be 0-100, got %d", cfg.DeactivationThreshold))
	}
	if cfg.MinConsecutiveFailures < 1 {
		errs = append(errs, fmt.Sprintf("min_consecutive_failures: must be at least 1, got %d", cfg.MinConsecutiveFailures))
	}
	if cfg.DefaultHealthScore < 0 || cfg.DefaultHealthScore > 100 {
		errs = append(errs, fmt.Sprintf("default_health_score: must be 0-100, got %d", cfg.DefaultHealthScore))
	}
	for tier, n := range cfg.MaxNodesPerDomain {
		if tier < 0 {
			errs = append(errs, fmt.Sprintf("max_nodes_per_domain: invalid tier %d", tier))
		}
		if n < 0 {
			errs = append(errs, fmt.Sprintf("max_nodes_per_domain[%d]: must not be negative, got %d", tier, n))
		}
	}
	if cfg.ProbeTimeout.Std() <= 0 {
		errs = append(errs, "probe_timeout: must be positive")
	}
	if cfg.ProbeInterval.Std() < time.Second {
		errs = append(errs, "probe_interval: must be at least 1s")
	}
	if _, err := cron.ParseStandard(cfg.ProbeSweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("probe_sweep_schedule: invalid cron expression %q: %v", cfg.ProbeSweepSchedule, err))
	}
	if cfg.ShortIDCount < 1 || cfg.ShortIDCount > 8 {
		errs = append(errs, fmt.Sprintf("short_id_count: must be 1-8, got %d", cfg.ShortIDCount))
	}

	if len(errs) > 0 {
		return fmt.Errorf("runtime config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
