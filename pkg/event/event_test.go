package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ev, err := Normalize(Params{Slug: "assignment", Request: Request{Host: "example.com"}})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if ev.Key != "" {
		t.Fatalf("Key = %q, want empty", ev.Key)
	}
	r := ev.Request
	if r.Protocol != "http:" || r.Port != 80 || r.Method != "GET" || r.Path != "/" {
		t.Fatalf("unexpected request defaults: %+v", r)
	}
	if r.Headers == nil {
		t.Fatal("expected non-nil headers")
	}
	if ev.Recurring.IsRecurring() {
		t.Fatal("expected one-shot event")
	}
}

func TestNormalizeCanonicalSpelling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       Request
		protocol string
		path     string
		method   string
	}{
		{name: "protocol without colon", in: Request{Protocol: "https", Path: "/a"}, protocol: "https:", path: "/a", method: "GET"},
		{name: "protocol with colon", in: Request{Protocol: "https:", Path: "/a"}, protocol: "https:", path: "/a", method: "GET"},
		{name: "path without slash", in: Request{Path: "hooks/run"}, protocol: "http:", path: "/hooks/run", method: "GET"},
		{name: "lowercase method", in: Request{Method: "post"}, protocol: "http:", path: "/", method: "POST"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.in.Normalize()
			if got.Protocol != tt.protocol {
				t.Fatalf("Protocol = %q, want %q", got.Protocol, tt.protocol)
			}
			if got.Path != tt.path {
				t.Fatalf("Path = %q, want %q", got.Path, tt.path)
			}
			if got.Method != tt.method {
				t.Fatalf("Method = %q, want %q", got.Method, tt.method)
			}
		})
	}
}

func TestNormalizeRequiresSlug(t *testing.T) {
	t.Parallel()
	for _, slug := range []string{"", "   "} {
		if _, err := Normalize(Params{Slug: slug}); !errors.Is(err, ErrSlugRequired) {
			t.Fatalf("Normalize(slug=%q) err = %v, want ErrSlugRequired", slug, err)
		}
	}
}

func TestParamsMarshalIsNormalized(t *testing.T) {
	t.Parallel()

	runAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := json.Marshal(Params{Slug: "s", Key: "k", RunAt: At(runAt), Request: Request{Path: "x"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := m["run_at"].(float64); !ok || int64(got) != runAt.UnixMilli() {
		t.Fatalf("run_at = %v, want %d", m["run_at"], runAt.UnixMilli())
	}
	if m["recurring"] != false {
		t.Fatalf("recurring = %v, want false", m["recurring"])
	}
	req := m["request"].(map[string]any)
	if req["path"] != "/x" {
		t.Fatalf("request.path = %v, want /x", req["path"])
	}
}

func TestFromResponseNullBody(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "null", "  null "} {
		ev, err := FromResponse(json.RawMessage(body))
		if err != nil || ev != nil {
			t.Fatalf("FromResponse(%q) = %v, %v; want nil, nil", body, ev, err)
		}
	}
}

func TestFromResponseCoercesFields(t *testing.T) {
	t.Parallel()

	body := `{
		"slug": "assignment",
		"key": "bunman",
		"run_at": "2026-01-02T03:04:05Z",
		"recurring": {"every": "1h"},
		"request": {"host": "example.com", "protocol": "https", "path": "cb"},
		"failed": true,
		"failed_code": 503,
		"failed_reason": {"message": "down"}
	}`
	ev, err := FromResponse(json.RawMessage(body))
	if err != nil {
		t.Fatalf("FromResponse error: %v", err)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if int64(ev.RunAt) != want {
		t.Fatalf("RunAt = %d, want %d", ev.RunAt, want)
	}
	if ev.Request.Protocol != "https:" || ev.Request.Path != "/cb" || ev.Request.Port != 80 {
		t.Fatalf("unexpected request: %+v", ev.Request)
	}
	if !ev.Recurring.IsRecurring() || string(ev.Recurring.Raw()) != `{"every": "1h"}` {
		t.Fatalf("recurring = %s", ev.Recurring.Raw())
	}
	if !ev.Failed || ev.FailedCode == nil || *ev.FailedCode != 503 {
		t.Fatalf("unexpected failure fields: failed=%v code=%v", ev.Failed, ev.FailedCode)
	}
	if !strings.Contains(string(ev.FailedResponse), "down") {
		t.Fatalf("FailedResponse = %s, want failed_reason fallback", ev.FailedResponse)
	}
}

func TestFromResponseRejectsMissingSlug(t *testing.T) {
	t.Parallel()
	if _, err := FromResponse(json.RawMessage(`{"key":"k"}`)); !errors.Is(err, ErrSlugRequired) {
		t.Fatalf("err = %v, want ErrSlugRequired", err)
	}
}

func TestParseMillis(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want Millis
	}{
		{name: "time", in: ts, want: Millis(ts.UnixMilli())},
		{name: "int64", in: int64(1000), want: 1000},
		{name: "float", in: 1500.4, want: 1500},
		{name: "numeric string", in: "2500", want: 2500},
		{name: "rfc3339", in: "2026-03-01T12:00:00Z", want: Millis(ts.UnixMilli())},
		{name: "json number", in: json.Number("42"), want: 42},
		{name: "nil", in: nil, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMillis(tt.in)
			if err != nil {
				t.Fatalf("ParseMillis(%v) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseMillis(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseMillis("yesterday"); err == nil {
		t.Fatal("expected error for invalid timestamp")
	}
	if _, err := ParseMillis(struct{}{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestRecurringPassThrough(t *testing.T) {
	t.Parallel()

	var r Recurring
	if err := json.Unmarshal([]byte(`{"cron":"0 * * * *","tz":"UTC"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"cron":"0 * * * *","tz":"UTC"}` {
		t.Fatalf("recurring = %s, want verbatim", b)
	}

	var off Recurring
	if err := json.Unmarshal([]byte(`false`), &off); err != nil {
		t.Fatalf("unmarshal false: %v", err)
	}
	if off.IsRecurring() {
		t.Fatal("false must decode as one-shot")
	}
}

func TestRequestFromHref(t *testing.T) {
	t.Parallel()

	r, err := RequestFromHref(HrefRequest{
		Href:        "https://hooks.example.com/run?a=1",
		Method:      "post",
		QueryString: map[string]string{"b": "2"},
	})
	if err != nil {
		t.Fatalf("RequestFromHref error: %v", err)
	}
	if r.Host != "hooks.example.com" || r.Protocol != "https:" || r.Port != 443 {
		t.Fatalf("unexpected request: %+v", r)
	}
	if r.Path != "/run?a=1&b=2" || r.Method != "POST" {
		t.Fatalf("unexpected path/method: %q %q", r.Path, r.Method)
	}
	if got := r.Href(); got != "https://hooks.example.com/run?a=1&b=2" {
		t.Fatalf("Href() = %q", got)
	}

	if _, err := RequestFromHref(HrefRequest{Href: "/relative"}); err == nil {
		t.Fatal("expected error for relative href")
	}
}

func TestUpdatesMarshalOnlyPresentFields(t *testing.T) {
	t.Parallel()

	at := Millis(5000)
	u := Updates{RunAt: &at, Request: &Request{Path: "next"}}.Normalize()
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m["run_at"]) != "5000" {
		t.Fatalf("run_at = %s", m["run_at"])
	}
	if string(m["request"]) != `{"path":"/next"}` {
		t.Fatalf("request = %s", m["request"])
	}
	if _, ok := m["recurring"]; ok {
		t.Fatal("recurring must be omitted when not set")
	}
}

func TestUpdatesApplyPreservesIdentity(t *testing.T) {
	t.Parallel()

	ev, err := Normalize(Params{Slug: "s", Key: "k", RunAt: 1000, Request: Request{Host: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	at := Millis(2000)
	got := Updates{RunAt: &at}.Apply(ev)
	if got.Slug != "s" || got.Key != "k" {
		t.Fatalf("identity changed: %s/%s", got.Slug, got.Key)
	}
	if got.RunAt != 2000 || got.Request.Host != "a" {
		t.Fatalf("unexpected event after update: %+v", got)
	}
	if ev.RunAt != 1000 {
		t.Fatal("Apply mutated the input event")
	}
}

func TestFromResponseKeepsExtraFields(t *testing.T) {
	t.Parallel()

	ev, err := FromResponse(json.RawMessage(`{"slug":"s","key":"k","run_at":1,"endpoint":"e1"}`))
	if err != nil {
		t.Fatalf("FromResponse error: %v", err)
	}
	if string(ev.Extra["endpoint"]) != `"e1"` || len(ev.Extra) != 1 {
		t.Fatalf("Extra = %v, want only endpoint", ev.Extra)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"endpoint":"e1"`) {
		t.Fatalf("marshaled event = %s, want endpoint", b)
	}
}

func TestUpdatesFromEventWritesFullSnapshot(t *testing.T) {
	t.Parallel()

	ev, err := Normalize(Params{
		Slug:    "s",
		Key:     "k",
		RunAt:   1000,
		Request: Request{Host: "a"},
		Extra:   map[string]json.RawMessage{"owner": json.RawMessage(`"ops"`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(UpdatesFromEvent(ev, "endpoint", "owner", "run_at").Normalize())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var req map[string]json.RawMessage
	if err := json.Unmarshal(m["request"], &req); err != nil {
		t.Fatalf("request: %v", err)
	}

	tests := []struct {
		name string
		got  json.RawMessage
		want string
	}{
		{name: "data", got: req["data"], want: "null"},
		{name: "host", got: req["host"], want: `"a"`},
		{name: "run_at", got: m["run_at"], want: "1000"},
		{name: "failed", got: m["failed"], want: "false"},
		{name: "failed_code", got: m["failed_code"], want: "null"},
		{name: "failed_response", got: m["failed_response"], want: "null"},
		{name: "touched extra restored", got: m["owner"], want: `"ops"`},
		{name: "extra absent before", got: m["endpoint"], want: "null"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Fatalf("%s = %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestUpdatesApplyNullsClear(t *testing.T) {
	t.Parallel()

	code := 500
	ev, err := Normalize(Params{
		Slug:       "s",
		Key:        "k",
		RunAt:      1000,
		Request:    Request{Host: "a", Data: json.RawMessage(`{"x":1}`)},
		Failed:     true,
		FailedCode: &code,
		Extra:      map[string]json.RawMessage{"endpoint": json.RawMessage(`"e1"`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := Updates{
		Request: &Request{Data: json.RawMessage("null")},
		Extra: map[string]json.RawMessage{
			"failed":      json.RawMessage("false"),
			"failed_code": json.RawMessage("null"),
			"endpoint":    json.RawMessage("null"),
		},
	}.Apply(ev)
	if len(got.Request.Data) != 0 || got.Failed || got.FailedCode != nil {
		t.Fatalf("after apply: data=%s failed=%v code=%v", got.Request.Data, got.Failed, got.FailedCode)
	}
	if _, ok := got.Extra["endpoint"]; ok {
		t.Fatal("endpoint not cleared")
	}
	if _, ok := ev.Extra["endpoint"]; !ok {
		t.Fatal("Apply mutated the input event")
	}
}
