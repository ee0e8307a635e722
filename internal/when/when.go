// Package when resolves the --at expressions accepted by the CLI into an
// absolute run time.
package when

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventsched/pkg/event"
)

// Kind describes how an expression was interpreted.
type Kind int

const (
	KindAbsolute Kind = iota
	KindRelative
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindAbsolute:
		return "absolute"
	case KindRelative:
		return "relative"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Parsed is a resolved expression.
type Parsed struct {
	Kind   Kind
	At     time.Time
	Source string // "now" | "epoch_ms" | "rfc3339" | "date" | "duration" | "hhmm" | "cron"
}

// Millis returns At as epoch milliseconds.
func (p Parsed) Millis() event.Millis { return event.At(p.At) }

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse resolves raw against now. A nil loc means UTC.
//
// Supported forms:
//   - "now"
//   - epoch milliseconds: "1767225600000"
//   - RFC3339: "2026-01-01T09:00:00Z"; "2026-01-01T09:00" and "2026-01-01" use loc
//   - relative: "+90m", "in:2h", "in 2h30m"
//   - HH:MM offset: "01:30" (90 minutes from now)
//   - cron (next fire after now, in loc): "0 9 * * 1-5", "@daily", "cron:*/15 * * * *"
func Parse(raw string, now time.Time, loc *time.Location) (Parsed, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, fmt.Errorf("time expression required")
	}
	low := strings.ToLower(s)

	switch {
	case low == "now":
		return Parsed{Kind: KindAbsolute, At: now, Source: "now"}, nil
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), now, loc)
	case strings.HasPrefix(s, "+"):
		return parseRelative(s[1:], now)
	case strings.HasPrefix(low, "in:"):
		return parseRelative(s[len("in:"):], now)
	case strings.HasPrefix(low, "in "):
		return parseRelative(s[len("in "):], now)
	}
	if p, ok, err := parseAbsolute(s, loc); ok || err != nil {
		return p, err
	}

	if reHHMM.MatchString(s) {
		d, err := hhmm(s)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Kind: KindRelative, At: now.Add(d), Source: "hhmm"}, nil
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s, now, loc)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Parsed{}, fmt.Errorf("offset must be > 0")
		}
		return Parsed{Kind: KindRelative, At: now.Add(d), Source: "duration"}, nil
	}

	return Parsed{}, fmt.Errorf(
		"invalid time %q (use RFC3339, epoch ms, '+90m', 'HH:MM' or a cron expression)",
		raw,
	)
}

// Resolve is Parse relative to the current time, returning epoch milliseconds.
func Resolve(raw string, loc *time.Location) (event.Millis, error) {
	p, err := Parse(raw, time.Now(), loc)
	if err != nil {
		return 0, err
	}
	return p.Millis(), nil
}

func parseAbsolute(s string, loc *time.Location) (Parsed, bool, error) {
	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Parsed{}, true, fmt.Errorf("invalid epoch ms %q", s)
		}
		return Parsed{Kind: KindAbsolute, At: event.Millis(n).Time(), Source: "epoch_ms"}, true, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return Parsed{Kind: KindAbsolute, At: t, Source: "rfc3339"}, true, nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return Parsed{Kind: KindAbsolute, At: t, Source: "rfc3339"}, true, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return Parsed{Kind: KindAbsolute, At: t, Source: "date"}, true, nil
	}
	return Parsed{}, false, nil
}

func parseRelative(v string, now time.Time) (Parsed, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Parsed{}, fmt.Errorf("offset required")
	}
	var (
		d   time.Duration
		src = "duration"
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = hhmm(v)
		src = "hhmm"
	} else {
		d, err = time.ParseDuration(v)
		if err != nil {
			err = fmt.Errorf("invalid offset %q (use HH:MM or Go duration like '90m')", v)
		}
	}
	if err != nil {
		return Parsed{}, err
	}
	if d <= 0 {
		return Parsed{}, fmt.Errorf("offset must be > 0")
	}
	return Parsed{Kind: KindRelative, At: now.Add(d), Source: src}, nil
}

func parseCron(expr string, now time.Time, loc *time.Location) (Parsed, error) {
	if expr == "" {
		return Parsed{}, fmt.Errorf("cron expression required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Parsed{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return Parsed{}, fmt.Errorf("cron %q never fires", expr)
	}
	return Parsed{Kind: KindCron, At: next, Source: "cron"}, nil
}

func hhmm(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("offset must be > 0")
	}
	return d, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
