package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"eventsched/pkg/event"
)

const fakeEndpoint = "http://sched.test"

// fakeService is an in-memory scheduler server behind the Transport
// interface.
type fakeService struct {
	mu     sync.Mutex
	events map[string]event.Event
	order  []string
	calls  []string

	// intercept, when set, answers a request before the store does.
	// Returning (nil, nil) falls through.
	intercept func(req *Request) (*Response, error)
}

func newFakeService() *fakeService {
	return &fakeService{events: map[string]event.Event{}}
}

func newTestClient(f *fakeService, opts ...Option) *Client {
	opts = append([]Option{WithTransport(f)}, opts...)
	return New(Config{Endpoint: fakeEndpoint}, opts...)
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) put(ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(ev)
}

func (f *fakeService) store(ev event.Event) {
	id := ev.Slug + "\x00" + ev.Key
	if _, ok := f.events[id]; !ok {
		f.order = append(f.order, id)
	}
	f.events[id] = ev
}

func (f *fakeService) Do(_ context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+u.RequestURI())
	intercept := f.intercept
	f.mu.Unlock()

	if intercept != nil {
		if resp, err := intercept(req); resp != nil || err != nil {
			return resp, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if u.Path == "/list" {
		return f.list(u.Query())
	}
	parts := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if len(parts) != 2 {
		return reply(http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad path"}}), nil
	}
	slug, _ := url.PathUnescape(parts[0])
	key, _ := url.PathUnescape(parts[1])
	id := slug + "\x00" + key

	switch req.Method {
	case http.MethodPost:
		ev, err := event.FromResponse(req.Body)
		if err != nil || ev == nil {
			return reply(http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad body"}}), nil
		}
		ev.Slug, ev.Key = slug, key
		f.store(*ev)
		return reply(http.StatusOK, map[string]any{"result": ev}), nil
	case http.MethodGet:
		ev, ok := f.events[id]
		if !ok {
			return reply(http.StatusNotFound, map[string]any{"error": map[string]any{"message": "event not found", "status": 404}}), nil
		}
		return reply(http.StatusOK, map[string]any{"result": ev}), nil
	case http.MethodPut:
		ev, ok := f.events[id]
		if !ok {
			return reply(http.StatusNotFound, map[string]any{"error": map[string]any{"message": "event not found", "status": 404}}), nil
		}
		upd, err := decodeUpdates(req.Body)
		if err != nil {
			return reply(http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}}), nil
		}
		ev = upd.Apply(ev)
		f.events[id] = ev
		return reply(http.StatusOK, map[string]any{"result": ev}), nil
	case http.MethodDelete:
		if _, ok := f.events[id]; !ok {
			return reply(http.StatusOK, map[string]any{"result": 0}), nil
		}
		delete(f.events, id)
		for i, o := range f.order {
			if o == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
		return reply(http.StatusOK, map[string]any{"result": 1}), nil
	}
	return reply(http.StatusMethodNotAllowed, nil), nil
}

// decodeUpdates reads a PUT body the way the service merges it: typed fields
// when present, request.data even when null, everything else as extras.
func decodeUpdates(b []byte) (event.Updates, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return event.Updates{}, err
	}
	var u event.Updates
	if r, ok := raw["request"]; ok {
		var req event.Request
		if err := json.Unmarshal(r, &req); err != nil {
			return event.Updates{}, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(r, &fields); err != nil {
			return event.Updates{}, err
		}
		if d, ok := fields["data"]; ok {
			req.Data = d
		}
		u.Request = &req
	}
	if r, ok := raw["run_at"]; ok {
		var v event.Millis
		if err := json.Unmarshal(r, &v); err != nil {
			return event.Updates{}, err
		}
		u.RunAt = &v
	}
	if r, ok := raw["recurring"]; ok {
		var v event.Recurring
		if err := json.Unmarshal(r, &v); err != nil {
			return event.Updates{}, err
		}
		u.Recurring = &v
	}
	for k, v := range raw {
		switch k {
		case "request", "run_at", "recurring", "slug", "key":
			continue
		}
		if u.Extra == nil {
			u.Extra = map[string]json.RawMessage{}
		}
		u.Extra[k] = v
	}
	return u, nil
}

func (f *fakeService) list(q url.Values) (*Response, error) {
	out := make([]event.Event, 0, len(f.order))
	for _, id := range f.order {
		ev := f.events[id]
		if s := q.Get("slug"); s != "" && ev.Slug != s {
			continue
		}
		out = append(out, ev)
	}
	return reply(http.StatusOK, map[string]any{"result": out}), nil
}

func reply(status int, v any) *Response {
	var b []byte
	if v != nil {
		b, _ = json.Marshal(v)
	}
	return &Response{StatusCode: status, Header: http.Header{"Content-Type": []string{"application/json"}}, Body: b}
}

func rawReply(status int, body string) *Response {
	return &Response{StatusCode: status, Body: []byte(body)}
}
