package app

import (
	"strings"
	"time"

	"eventsched/internal/config"
	"eventsched/pkg/logx"
	"eventsched/pkg/scheduler"
	"eventsched/pkg/scheduler/httptransport"
)

const defaultUserAgent = "eventsched/1"

func mapTransportConfig(cfg *config.Config) (httptransport.Config, error) {
	t := cfg.Transport
	var (
		out httptransport.Config
		err error
	)
	if out.Timeout, err = config.ParseDurationOrDefault("transport.timeout", t.Timeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationOrDefault("transport.retry_base", t.RetryBase, 250*time.Millisecond); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("transport.retry_max_delay", t.RetryMaxDelay, 15*time.Second); err != nil {
		return out, err
	}
	if out.CircuitBaseDelay, err = config.ParseDurationOrDefault("transport.circuit_cooldown", t.CircuitCooldown, 5*time.Second); err != nil {
		return out, err
	}
	if out.CircuitMaxDelay, err = config.ParseDurationOrDefault("transport.circuit_max_cooldown", t.CircuitMaxCooldown, 2*time.Minute); err != nil {
		return out, err
	}
	out.RatePerSec = t.RatePerSec
	out.Burst = t.Burst
	out.RetryMax = t.RetryMax
	out.CircuitTripFailures = t.CircuitTripFailures
	out.UserAgent = strings.TrimSpace(t.UserAgent)
	if out.UserAgent == "" {
		out.UserAgent = defaultUserAgent
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	policy, err := scheduler.ParsePolicy(s.CompensationPolicy)
	if err != nil {
		return scheduler.Config{}, err
	}
	out := scheduler.Config{
		Endpoint:        strings.TrimSpace(s.Endpoint),
		Host:            strings.TrimSpace(s.Host),
		Port:            s.Port,
		NotFoundAsError: s.NotFoundAsError,
		Policy:          policy,
	}
	return out, out.Validate()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapLocation resolves scheduler.timezone; empty means the local zone.
func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
