package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks values the strict decoder cannot: ranges, enums and
// duration strings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	s := cfg.Scheduler
	if ep := strings.TrimSpace(s.Endpoint); ep != "" {
		raw := ep
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("scheduler.endpoint: invalid url %q", ep))
		}
	}
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("scheduler.port: out of range: %d", s.Port))
	}
	switch strings.ToLower(strings.TrimSpace(s.CompensationPolicy)) {
	case "", "best_effort", "best-effort", "strict":
	default:
		errs = append(errs, fmt.Errorf("scheduler.compensation_policy: unknown value %q", s.CompensationPolicy))
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	t := cfg.Transport
	for path, raw := range map[string]string{
		"transport.timeout":              t.Timeout,
		"transport.retry_base":           t.RetryBase,
		"transport.retry_max_delay":      t.RetryMaxDelay,
		"transport.circuit_cooldown":     t.CircuitCooldown,
		"transport.circuit_max_cooldown": t.CircuitMaxCooldown,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if t.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("transport.rate_per_sec: must be >= 0"))
	}
	if t.Burst < 0 {
		errs = append(errs, fmt.Errorf("transport.burst: must be >= 0"))
	}

	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(j.Path) == "" {
				errs = append(errs, fmt.Errorf("journal.path: required for driver %q", j.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q", j.Driver))
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("journal.retention", j.Retention); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
