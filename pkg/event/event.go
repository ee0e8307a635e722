package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSlugRequired is returned when an operation targets an event without a slug.
var ErrSlugRequired = errors.New("missing required parameter: slug")

const (
	DefaultProtocol = "http:"
	DefaultPort     = 80
	DefaultMethod   = "GET"
	DefaultPath     = "/"
)

// Request describes the deferred HTTP call made when an event fires.
//
// This is the canonical (host based) form. Use RequestFromHref to build one
// from a single URL.
type Request struct {
	Host     string            `json:"host"`
	Protocol string            `json:"protocol"`
	Port     int               `json:"port"`
	Headers  map[string]string `json:"headers"`
	Method   string            `json:"method"`
	Path     string            `json:"path"`
	Data     json.RawMessage   `json:"data,omitempty"`
}

// Normalize applies request defaults and canonical spelling.
func (r Request) Normalize() Request {
	out := r
	out.Protocol = normalizeProtocol(r.Protocol, DefaultProtocol)
	out.Path = normalizePath(r.Path, DefaultPath)
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	out.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if out.Method == "" {
		out.Method = DefaultMethod
	}
	out.Headers = cloneHeaders(r.Headers)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	out.Data = nullableRaw(r.Data)
	return out
}

// Event is a scheduled deferred call identified by (Slug, Key).
//
// Events returned by the client are snapshots: each operation returns a
// fresh value and the client never mutates one after returning it.
type Event struct {
	Slug           string          `json:"slug"`
	Key            string          `json:"key"`
	Request        Request         `json:"request"`
	RunAt          Millis          `json:"run_at"`
	Recurring      Recurring       `json:"recurring"`
	Failed         bool            `json:"failed"`
	FailedCode     *int            `json:"failed_code"`
	FailedResponse json.RawMessage `json:"failed_response"`

	// Extra holds top-level fields the service stores that are not modeled
	// above. They are kept so an undo can write them back.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownFields are the top-level keys modeled by Event.
var knownFields = map[string]bool{
	"slug": true, "key": true, "request": true, "run_at": true, "recurring": true,
	"failed": true, "failed_code": true, "failed_response": true, "failed_reason": true,
}

type eventJSON Event

// MarshalJSON renders the modeled fields plus Extra. Modeled fields win on
// key collisions.
func (e Event) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(eventJSON(e))
	if err != nil || len(e.Extra) == 0 {
		return b, err
	}
	return mergeExtra(b, e.Extra)
}

// mergeExtra adds extra keys to the JSON object b without overriding its
// own keys.
func mergeExtra(b []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; ok || knownFields[k] || len(bytes.TrimSpace(v)) == 0 {
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}

func cloneExtra(in map[string]json.RawMessage) map[string]json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Identity returns the (slug, key) pair.
func (e Event) Identity() (slug, key string) { return e.Slug, e.Key }

// Params is the construction input for a new event.
//
// Slug and Key are usually supplied by the client from the call arguments.
type Params struct {
	Slug      string
	Key       string
	Request   Request
	RunAt     Millis
	Recurring Recurring

	// Failure state and unmodeled fields. Only set when re-creating an
	// event exactly as it was.
	Failed         bool
	FailedCode     *int
	FailedResponse json.RawMessage
	Extra          map[string]json.RawMessage
}

// wire is the body sent on add. Slug/key travel in the path but are also
// included so servers that read them from the body see the same identity.
type wire struct {
	Slug      string    `json:"slug"`
	Key       string    `json:"key"`
	Request   Request   `json:"request"`
	RunAt     Millis    `json:"run_at"`
	Recurring Recurring `json:"recurring"`

	Failed         bool            `json:"failed,omitempty"`
	FailedCode     *int            `json:"failed_code,omitempty"`
	FailedResponse json.RawMessage `json:"failed_response,omitempty"`
}

// MarshalJSON renders the normalized construction body.
func (p Params) MarshalJSON() ([]byte, error) {
	ev, err := Normalize(p)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(wire{
		Slug:           ev.Slug,
		Key:            ev.Key,
		Request:        ev.Request,
		RunAt:          ev.RunAt,
		Recurring:      ev.Recurring,
		Failed:         ev.Failed,
		FailedCode:     ev.FailedCode,
		FailedResponse: ev.FailedResponse,
	})
	if err != nil {
		return nil, err
	}
	return mergeExtra(b, ev.Extra)
}

// Normalize turns construction input into a canonical Event.
func Normalize(p Params) (Event, error) {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		return Event{}, ErrSlugRequired
	}
	ev := Event{
		Slug:           slug,
		Key:            p.Key,
		Request:        p.Request.Normalize(),
		RunAt:          p.RunAt,
		Recurring:      p.Recurring,
		Failed:         p.Failed,
		FailedResponse: nullableRaw(p.FailedResponse),
		Extra:          cloneExtra(p.Extra),
	}
	if p.FailedCode != nil {
		c := *p.FailedCode
		ev.FailedCode = &c
	}
	return ev, nil
}

// ParamsFromEvent captures every field needed to re-create ev as it was,
// including its failure state and unmodeled fields.
func ParamsFromEvent(ev Event) Params {
	p := Params{
		Slug:           ev.Slug,
		Key:            ev.Key,
		Request:        ev.Request.Normalize(),
		RunAt:          ev.RunAt,
		Recurring:      ev.Recurring,
		Failed:         ev.Failed,
		FailedResponse: nullableRaw(ev.FailedResponse),
		Extra:          cloneExtra(ev.Extra),
	}
	if ev.FailedCode != nil {
		c := *ev.FailedCode
		p.FailedCode = &c
	}
	return p
}

type responseBody struct {
	Slug           string          `json:"slug"`
	Key            string          `json:"key"`
	Request        Request         `json:"request"`
	RunAt          Millis          `json:"run_at"`
	Recurring      Recurring       `json:"recurring"`
	Failed         bool            `json:"failed"`
	FailedCode     *int            `json:"failed_code"`
	FailedResponse json.RawMessage `json:"failed_response"`
	FailedReason   json.RawMessage `json:"failed_reason"`
}

// FromResponse rebuilds an Event from a service response payload.
//
// A null or absent body is not an error: it yields (nil, nil), which is how
// the service says "accepted, nothing to report".
func FromResponse(body json.RawMessage) (*Event, error) {
	b := bytes.TrimSpace(body)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	var rb responseBody
	if err := json.Unmarshal(b, &rb); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	ev, err := Normalize(Params{
		Slug:      rb.Slug,
		Key:       rb.Key,
		Request:   rb.Request,
		RunAt:     rb.RunAt,
		Recurring: rb.Recurring,
	})
	if err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	for k, v := range all {
		if knownFields[k] {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = map[string]json.RawMessage{}
		}
		ev.Extra[k] = append(json.RawMessage(nil), v...)
	}
	ev.Failed = rb.Failed
	if rb.FailedCode != nil {
		c := *rb.FailedCode
		ev.FailedCode = &c
	}
	ev.FailedResponse = nullableRaw(rb.FailedResponse)
	if ev.FailedResponse == nil {
		ev.FailedResponse = nullableRaw(rb.FailedReason)
	}
	return &ev, nil
}

func nullableRaw(b json.RawMessage) json.RawMessage {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), t...)
}

func normalizeProtocol(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

func normalizePath(p, def string) string {
	if p == "" {
		return def
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
