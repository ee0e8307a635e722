package config

import (
	"strings"

	"eventsched/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Header-like secrets are never part of the
// config, but the endpoint is logged without userinfo.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	prev, next := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(prev.Endpoint) != strings.TrimSpace(next.Endpoint) ||
		strings.TrimSpace(prev.Host) != strings.TrimSpace(next.Host) ||
		prev.Port != next.Port ||
		prev.NotFoundAsError != next.NotFoundAsError ||
		!strings.EqualFold(strings.TrimSpace(prev.CompensationPolicy), strings.TrimSpace(next.CompensationPolicy)) ||
		strings.TrimSpace(prev.Timezone) != strings.TrimSpace(next.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.endpoint", redactEndpoint(next.Endpoint)),
			logx.String("scheduler.host", strings.TrimSpace(next.Host)),
			logx.Int("scheduler.port", next.Port),
			logx.Bool("scheduler.not_found_as_error", next.NotFoundAsError),
			logx.String("scheduler.compensation_policy", strings.TrimSpace(next.CompensationPolicy)),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		t := newCfg.Transport
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.timeout", strings.TrimSpace(t.Timeout)),
			logx.Any("transport.rate_per_sec", t.RatePerSec),
			logx.Int("transport.retry_max", t.RetryMax),
			logx.Int("transport.circuit_trip_failures", t.CircuitTripFailures),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oj, nj JournalConfig
	if oldCfg.Journal != nil {
		oj = *oldCfg.Journal
	}
	if newCfg.Journal != nil {
		nj = *newCfg.Journal
	}
	if oj != nj {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", nj.Driver),
			logx.String("journal.path", nj.Path),
		)
	}

	return changed, attrs
}

// redactEndpoint drops userinfo from an endpoint URL.
func redactEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	scheme := ""
	rest := ep
	if i := strings.Index(ep, "://"); i >= 0 {
		scheme, rest = ep[:i+3], ep[i+3:]
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + rest
}
