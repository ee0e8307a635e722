package event

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Updates holds the fields of a partial update. Nil fields are left alone
// by the server.
type Updates struct {
	Request   *Request
	RunAt     *Millis
	Recurring *Recurring

	// Extra carries additional top-level fields verbatim. Keys that collide
	// with the typed fields above are ignored.
	Extra map[string]json.RawMessage
}

// IsEmpty reports whether no field is set.
func (u Updates) IsEmpty() bool {
	return u.Request == nil && u.RunAt == nil && u.Recurring == nil && len(u.Extra) == 0
}

// Normalize canonicalizes the fields that are present. Missing request
// fields are not defaulted: an update only touches what it names.
func (u Updates) Normalize() Updates {
	out := Updates{}
	if u.RunAt != nil {
		v := *u.RunAt
		out.RunAt = &v
	}
	if u.Recurring != nil {
		v := RecurringRaw(u.Recurring.raw)
		out.Recurring = &v
	}
	if u.Request != nil {
		r := *u.Request
		if r.Protocol != "" {
			r.Protocol = normalizeProtocol(r.Protocol, "")
		}
		if r.Path != "" {
			r.Path = normalizePath(r.Path, "")
		}
		r.Headers = cloneHeaders(r.Headers)
		out.Request = &r
	}
	if len(u.Extra) > 0 {
		out.Extra = make(map[string]json.RawMessage, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

var jsonNull = json.RawMessage("null")

// UpdatesFromEvent returns the updates that put an event back to ev.
//
// Every modeled field is written, absent values as explicit nulls, so fields
// set since the snapshot are cleared. touched names unmodeled top-level keys
// changed since the snapshot; each gets ev's value back, or null when ev had
// none.
func UpdatesFromEvent(ev Event, touched ...string) Updates {
	req := ev.Request.Normalize()
	if len(req.Data) == 0 {
		req.Data = jsonNull
	}
	runAt := ev.RunAt
	rec := ev.Recurring

	extra := map[string]json.RawMessage{
		"failed":          json.RawMessage("false"),
		"failed_code":     jsonNull,
		"failed_response": jsonNull,
	}
	if ev.Failed {
		extra["failed"] = json.RawMessage("true")
	}
	if ev.FailedCode != nil {
		b, _ := json.Marshal(*ev.FailedCode)
		extra["failed_code"] = b
	}
	if r := nullableRaw(ev.FailedResponse); r != nil {
		extra["failed_response"] = r
	}
	for _, k := range touched {
		if knownFields[k] {
			continue
		}
		if v, ok := ev.Extra[k]; ok {
			extra[k] = append(json.RawMessage(nil), v...)
		} else {
			extra[k] = jsonNull
		}
	}
	return Updates{Request: &req, RunAt: &runAt, Recurring: &rec, Extra: extra}
}

// ExtraKeys returns the unmodeled top-level keys u writes.
func (u Updates) ExtraKeys() []string {
	keys := make([]string, 0, len(u.Extra))
	for k := range u.Extra {
		if !knownFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Apply returns a copy of ev with the updates applied, the way the server
// merges them. Used by tests and fakes.
func (u Updates) Apply(ev Event) Event {
	out := ev
	if u.RunAt != nil {
		out.RunAt = *u.RunAt
	}
	if u.Recurring != nil {
		out.Recurring = *u.Recurring
	}
	if u.Request != nil {
		r := out.Request
		if u.Request.Host != "" {
			r.Host = u.Request.Host
		}
		if u.Request.Protocol != "" {
			r.Protocol = u.Request.Protocol
		}
		if u.Request.Port > 0 {
			r.Port = u.Request.Port
		}
		if u.Request.Headers != nil {
			r.Headers = cloneHeaders(u.Request.Headers)
		}
		if u.Request.Method != "" {
			r.Method = u.Request.Method
		}
		if u.Request.Path != "" {
			r.Path = u.Request.Path
		}
		if len(u.Request.Data) > 0 {
			// An explicit null clears the body.
			r.Data = nullableRaw(u.Request.Data)
		}
		out.Request = r.Normalize()
	}
	if len(u.Extra) > 0 {
		out.Extra = cloneExtra(out.Extra)
		for k, v := range u.Extra {
			applyExtra(&out, k, v)
		}
	}
	return out
}

func applyExtra(ev *Event, k string, v json.RawMessage) {
	isNull := nullableRaw(v) == nil
	switch k {
	case "slug", "key", "request", "run_at", "recurring":
	case "failed":
		var b bool
		_ = json.Unmarshal(v, &b)
		ev.Failed = b
	case "failed_code":
		ev.FailedCode = nil
		if !isNull {
			var c int
			if json.Unmarshal(v, &c) == nil {
				ev.FailedCode = &c
			}
		}
	case "failed_response", "failed_reason":
		ev.FailedResponse = nullableRaw(v)
	default:
		if isNull {
			delete(ev.Extra, k)
			return
		}
		if ev.Extra == nil {
			ev.Extra = map[string]json.RawMessage{}
		}
		ev.Extra[k] = append(json.RawMessage(nil), v...)
	}
}

func (u Updates) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(u.Extra)+3)
	for k, v := range u.Extra {
		if len(bytes.TrimSpace(v)) == 0 {
			continue
		}
		m[k] = v
	}
	put := func(k string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m[k] = b
		return nil
	}
	if u.RunAt != nil {
		if err := put("run_at", *u.RunAt); err != nil {
			return nil, err
		}
	}
	if u.Recurring != nil {
		if err := put("recurring", *u.Recurring); err != nil {
			return nil, err
		}
	}
	if u.Request != nil {
		if err := put("request", partialRequest(*u.Request)); err != nil {
			return nil, err
		}
	}
	return json.Marshal(m)
}

func partialRequest(r Request) map[string]any {
	m := map[string]any{}
	if r.Host != "" {
		m["host"] = r.Host
	}
	if r.Protocol != "" {
		m["protocol"] = r.Protocol
	}
	if r.Port > 0 {
		m["port"] = r.Port
	}
	if r.Headers != nil {
		m["headers"] = r.Headers
	}
	if r.Method != "" {
		m["method"] = r.Method
	}
	if r.Path != "" {
		m["path"] = r.Path
	}
	if len(r.Data) > 0 {
		m["data"] = r.Data
	}
	return m
}
