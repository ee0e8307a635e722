package when

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 10, 17, 30, 0, time.UTC) // Monday
	jakarta := time.FixedZone("WIB", 7*3600)

	cases := []struct {
		name string
		in   string
		loc  *time.Location
		kind Kind
		src  string
		want time.Time
	}{
		{"now", " now ", nil, KindAbsolute, "now", now},
		{"epoch ms", "1767225600000", nil, KindAbsolute, "epoch_ms", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339", "2026-04-01T09:00:00Z", nil, KindAbsolute, "rfc3339", time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		{"local datetime", "2026-04-01T09:00", jakarta, KindAbsolute, "rfc3339", time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC)},
		{"date", "2026-04-01", nil, KindAbsolute, "date", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"plus", "+90m", nil, KindRelative, "duration", now.Add(90 * time.Minute)},
		{"in colon", "in:2h", nil, KindRelative, "duration", now.Add(2 * time.Hour)},
		{"in space", "in 1h30m", nil, KindRelative, "duration", now.Add(90 * time.Minute)},
		{"plus hhmm", "+01:15", nil, KindRelative, "hhmm", now.Add(75 * time.Minute)},
		{"hhmm", "02:30", nil, KindRelative, "hhmm", now.Add(150 * time.Minute)},
		{"bare duration", "45s", nil, KindRelative, "duration", now.Add(45 * time.Second)},
		{"cron", "0 9 * * *", nil, KindCron, "cron", time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)},
		{"cron tz", "0 9 * * *", jakarta, KindCron, "cron", time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)},
		{"cron prefix", "cron:*/15 * * * *", nil, KindCron, "cron", time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)},
		{"descriptor", "@daily", nil, KindCron, "cron", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in, now, tt.loc)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Source != tt.src {
				t.Fatalf("Parse(%q) kind=%s src=%s, want %s/%s", tt.in, got.Kind, got.Source, tt.kind, tt.src)
			}
			if !got.At.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %s, want %s", tt.in, got.At.UTC(), tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for _, in := range []string{"", "  ", "+", "in:", "+-5m", "00:00", "01:75", "cron:", "cron:61 * * * *", "tomorrow"} {
		if _, err := Parse(in, now, nil); err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
	}
}

func TestMillis(t *testing.T) {
	t.Parallel()

	p := Parsed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if p.Millis() != 1767225600000 {
		t.Fatalf("Millis = %d", p.Millis())
	}
}
