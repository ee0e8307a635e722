package config

import (
	"os"
	"strings"
)

type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`

	// Journal is optional; omitted means no compensation journal.
	Journal *JournalConfig `json:"journal,omitempty"`
}

// SchedulerConfig locates the scheduling service.
//
// Endpoint wins over host/port. Defaults: localhost:5665.
type SchedulerConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`

	// NotFoundAsError makes get report a missing event as an error.
	NotFoundAsError bool `json:"not_found_as_error,omitempty"`

	// CompensationPolicy is "best_effort" (default) or "strict".
	CompensationPolicy string `json:"compensation_policy,omitempty"`

	// Timezone used to evaluate cron style --at expressions.
	Timezone string `json:"timezone,omitempty"`
}

// TransportConfig tunes the HTTP transport.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - timeout: "10s"
//   - rate_per_sec: 0 (unlimited)
//   - retry_max: 2 (use -1 to disable)
//   - retry_base: "250ms"
//   - retry_max_delay: "15s"
//   - circuit_trip_failures: 5 (use -1 to disable)
//   - circuit_cooldown: "5s", doubling up to circuit_max_cooldown "2m"
type TransportConfig struct {
	Timeout             string  `json:"timeout,omitempty"`
	RatePerSec          float64 `json:"rate_per_sec,omitempty"`
	Burst               int     `json:"burst,omitempty"`
	RetryMax            int     `json:"retry_max,omitempty"`
	RetryBase           string  `json:"retry_base,omitempty"`
	RetryMaxDelay       string  `json:"retry_max_delay,omitempty"`
	CircuitTripFailures int     `json:"circuit_trip_failures,omitempty"`
	CircuitCooldown     string  `json:"circuit_cooldown,omitempty"`
	CircuitMaxCooldown  string  `json:"circuit_max_cooldown,omitempty"`
	UserAgent           string  `json:"user_agent,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// JournalConfig controls the compensation journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./eventsched.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention drops journal records older than this (e.g. "720h").
	Retention string `json:"retention,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
	ApplyEnv(cfg)
	return cfg
}

const (
	EnvEndpoint = "EVENTSCHED_ENDPOINT"
	EnvLogLevel = "EVENTSCHED_LOG_LEVEL"
)

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		cfg.Scheduler.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
}
