package scheduler

import (
	"context"
	"testing"
	"time"

	"eventsched/pkg/event"
)

func ptr[T any](v T) *T { return &v }

func TestEncodeQuery(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		f    ListFilter
		want string
	}{
		{name: "empty", f: ListFilter{}, want: ""},
		{
			name: "slug before failed",
			f:    ListFilter{Slug: ptr("a"), Before: ptr(event.Millis(1000)), Failed: ptr(true)},
			want: "slug=a&before=1000&failed=true",
		},
		{
			name: "times as epoch millis",
			f:    ListFilter{Before: ptr(event.At(ts)), After: ptr(event.Millis(0))},
			want: "before=1767323045000&after=0",
		},
		{
			name: "fixed order",
			f:    ListFilter{Failed: ptr(false), After: ptr(event.Millis(2)), Before: ptr(event.Millis(3)), Slug: ptr("s")},
			want: "slug=s&before=3&after=2&failed=false",
		},
		{name: "space in slug", f: ListFilter{Slug: ptr("a b")}, want: "slug=a%20b"},
		{name: "reserved characters", f: ListFilter{Slug: ptr("a+b&c")}, want: "slug=a%2Bb%26c"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EncodeQuery(tt.f); got != tt.want {
				t.Fatalf("EncodeQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFailed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "true", want: true},
		{in: "TRUE", want: true},
		{in: " False ", want: false},
		{in: "yes", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFailed(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseFailed(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseFailed(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFilterFromValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		slug    string
		before  any
		after   any
		failed  any
		want    string
		wantErr bool
	}{
		{name: "all absent", slug: " ", before: "", after: nil, failed: nil, want: ""},
		{name: "trimmed slug", slug: " s ", want: "slug=s"},
		{name: "numeric and string times", before: 1000, after: "2026-01-02T03:04:05Z", want: "before=1000&after=1767323045000"},
		{name: "bool failed", failed: false, want: "failed=false"},
		{name: "pointer failed", failed: ptr(true), want: "failed=true"},
		{name: "nil pointer failed", failed: (*bool)(nil), want: ""},
		{name: "string failed any case", failed: "TRUE", want: "failed=true"},
		{name: "empty string failed", failed: "  ", want: ""},
		{name: "bad failed string", failed: "maybe", wantErr: true},
		{name: "bad failed type", failed: 1, wantErr: true},
		{name: "bad before", before: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := FilterFromValues(tt.slug, tt.before, tt.after, tt.failed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FilterFromValues err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := EncodeQuery(f); got != tt.want {
				t.Fatalf("EncodeQuery(FilterFromValues) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListSendsEncodedFilter(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	if _, err := c.List(context.Background(), ListFilter{Slug: ptr("a b"), Failed: ptr(true)}); err != nil {
		t.Fatalf("List: %v", err)
	}
	calls := f.Calls()
	if len(calls) != 1 || calls[0] != "GET /list?slug=a%20b&failed=true" {
		t.Fatalf("calls = %v", calls)
	}
}
