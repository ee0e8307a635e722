package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"eventsched/pkg/event"
	"eventsched/pkg/logx"
)

// Client talks to the event scheduling service.
//
// It is safe for concurrent use. The only mutable state is the
// configuration, swapped atomically by Apply.
type Client struct {
	cfg atomic.Pointer[Config]

	tr    Transport
	log   logx.Logger
	hooks []CompensationHook
	now   func() time.Time
}

// New builds a client. Without WithTransport, requests go through a plain
// net/http based transport with default settings.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "scheduler"))
	if c.tr == nil {
		c.tr = defaultTransport()
	}
	c.Apply(cfg)
	return c
}

// Apply replaces the configuration used by subsequent calls.
// Calls already in flight keep the configuration they started with.
func (c *Client) Apply(cfg Config) {
	cp := cfg
	c.cfg.Store(&cp)
}

// Config returns the current configuration.
func (c *Client) Config() Config { return c.config() }

func (c *Client) config() Config {
	if p := c.cfg.Load(); p != nil {
		return *p
	}
	return Config{}
}

// Add creates an event at (slug, key). The returned event is nil when the
// service accepted the request without echoing it back.
func (c *Client) Add(ctx context.Context, slug, key string, p event.Params) (*event.Event, error) {
	ev, err := c.add(ctx, slug, key, p)
	return ev, fail(err)
}

// Get returns the event stored at (slug, key), or nil when there is none.
func (c *Client) Get(ctx context.Context, slug, key string) (*event.Event, error) {
	ev, err := c.get(ctx, slug, key, c.config().NotFoundAsError)
	return ev, fail(err)
}

// GetEvent re-fetches ev by its identity.
func (c *Client) GetEvent(ctx context.Context, ev event.Event) (*event.Event, error) {
	slug, key := ev.Identity()
	return c.Get(ctx, slug, key)
}

// List returns the events matching f in the order the service reports them.
func (c *Client) List(ctx context.Context, f ListFilter) ([]event.Event, error) {
	path := "/list"
	if q := EncodeQuery(f); q != "" {
		path += "?" + q
	}
	res, _, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fail(err)
	}
	out, err := decodeList(res)
	if err != nil {
		return nil, fail(err)
	}
	return out, nil
}

// Remove deletes the event at (slug, key) and returns how many records the
// service deleted. With a transaction (explicit, or ambient via
// ContextWithTx) the event is first snapshotted and an undo that re-adds it
// is registered; nothing is deleted if there is no event to snapshot.
func (c *Client) Remove(ctx context.Context, slug, key string, tx Transaction) (int, error) {
	slug, err := requireSlug(slug)
	if err != nil {
		return 0, fail(err)
	}
	var n int
	err = c.withCompensation(ctx, tx, OpRemove, slug, key, nil, func(ctx context.Context) error {
		var err error
		n, err = c.remove(ctx, slug, key)
		return err
	})
	if err != nil {
		return 0, fail(err)
	}
	return n, nil
}

// Update applies u to the event at (slug, key) and returns the result.
// Transaction handling is the same as Remove; the registered undo writes the
// snapshotted fields back.
func (c *Client) Update(ctx context.Context, slug, key string, u event.Updates, tx Transaction) (*event.Event, error) {
	slug, err := requireSlug(slug)
	if err != nil {
		return nil, fail(err)
	}
	var ev *event.Event
	err = c.withCompensation(ctx, tx, OpUpdate, slug, key, u.ExtraKeys(), func(ctx context.Context) error {
		var err error
		ev, err = c.update(ctx, slug, key, u)
		return err
	})
	if err != nil {
		return nil, fail(err)
	}
	return ev, nil
}

// ---- internals: raw (un-normalized) errors ----

func (c *Client) add(ctx context.Context, slug, key string, p event.Params) (*event.Event, error) {
	slug, err := requireSlug(slug)
	if err != nil {
		return nil, err
	}
	p.Slug, p.Key = slug, key
	body, err := json.Marshal(p)
	if err != nil {
		return nil, invalid("encode event: %v", err)
	}
	res, _, err := c.call(ctx, http.MethodPost, eventPath(slug, key), body)
	if err != nil {
		return nil, err
	}
	return decodeEvent(res)
}

func (c *Client) get(ctx context.Context, slug, key string, notFoundAsError bool) (*event.Event, error) {
	slug, err := requireSlug(slug)
	if err != nil {
		return nil, err
	}
	res, status, err := c.call(ctx, http.MethodGet, eventPath(slug, key), nil)
	if status == http.StatusNotFound {
		if !notFoundAsError {
			return nil, nil
		}
		nf := &NotFoundFailure{Slug: slug, Key: key}
		var rf *RemoteFailure
		if errors.As(err, &rf) {
			nf.Message = rf.Message
		}
		return nil, nf
	}
	if err != nil {
		return nil, err
	}
	return decodeEvent(res)
}

func (c *Client) update(ctx context.Context, slug, key string, u event.Updates) (*event.Event, error) {
	slug, err := requireSlug(slug)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(u.Normalize())
	if err != nil {
		return nil, invalid("encode updates: %v", err)
	}
	res, _, err := c.call(ctx, http.MethodPut, eventPath(slug, key), body)
	if err != nil {
		return nil, err
	}
	return decodeEvent(res)
}

func (c *Client) remove(ctx context.Context, slug, key string) (int, error) {
	res, _, err := c.call(ctx, http.MethodDelete, eventPath(slug, key), nil)
	if err != nil {
		return 0, err
	}
	return decodeDeleted(res)
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error"`
}

type remoteError struct {
	Message string
	Status  int
}

// UnmarshalJSON accepts {"message": ..., "status": ...} or a bare string.
func (r *remoteError) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.Message = s
		return nil
	}
	var obj struct {
		Message string          `json:"message"`
		Status  json.RawMessage `json:"status"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.Message = obj.Message
	r.Status = statusValue(obj.Status)
	if r.Status == 0 {
		r.Status = statusValue(obj.Code)
	}
	return nil
}

func statusValue(b json.RawMessage) int {
	t := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if t == "" || t == "null" {
		return 0
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 100 || n > 599 {
		return 0
	}
	return n
}

// call performs one exchange and unwraps the envelope. The HTTP status is
// returned whenever a response was obtained, also alongside an error.
func (c *Client) call(ctx context.Context, method, path string, body []byte) (json.RawMessage, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req := &Request{
		Method: method,
		URL:    c.config().BaseURL() + path,
		Header: http.Header{"Accept": []string{"application/json"}},
		Body:   body,
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.tr.Do(ctx, req)
	if err != nil {
		c.log.Debug("request failed", logx.String("method", method), logx.String("path", path), logx.Err(err))
		return nil, 0, err
	}
	if resp == nil {
		return nil, 0, &MalformedResponse{Err: errors.New("transport returned no response")}
	}
	status := resp.StatusCode
	if c.log.Enabled(logx.LevelDebug) {
		c.log.Debug("request",
			logx.String("method", method),
			logx.String("path", path),
			logx.Int("status", status),
			logx.Duration("took", c.now().Sub(start)),
		)
	}

	b := bytes.TrimSpace(resp.Body)
	if len(b) == 0 {
		if status >= 400 {
			return nil, status, &MalformedResponse{HTTPStatus: status, Err: fmt.Errorf("empty %s response", http.StatusText(status))}
		}
		return nil, status, nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, status, &MalformedResponse{HTTPStatus: status, Err: err}
	}
	if env.Error != nil {
		return nil, status, &RemoteFailure{Message: env.Error.Message, Status: env.Error.Status, HTTPStatus: status}
	}
	if status >= 400 {
		return nil, status, &MalformedResponse{HTTPStatus: status, Err: fmt.Errorf("%s without error payload", http.StatusText(status))}
	}
	return env.Result, status, nil
}

func decodeEvent(res json.RawMessage) (*event.Event, error) {
	ev, err := event.FromResponse(res)
	if err != nil {
		return nil, &MalformedResponse{HTTPStatus: http.StatusOK, Err: err}
	}
	return ev, nil
}

func decodeList(res json.RawMessage) ([]event.Event, error) {
	b := bytes.TrimSpace(res)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return []event.Event{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, &MalformedResponse{HTTPStatus: http.StatusOK, Err: fmt.Errorf("decode list: %w", err)}
	}
	out := make([]event.Event, 0, len(raw))
	for i, r := range raw {
		ev, err := event.FromResponse(r)
		if err != nil {
			return nil, &MalformedResponse{HTTPStatus: http.StatusOK, Err: fmt.Errorf("list item %d: %w", i, err)}
		}
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// decodeDeleted accepts a count or a boolean flag.
func decodeDeleted(res json.RawMessage) (int, error) {
	b := bytes.TrimSpace(res)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, &MalformedResponse{HTTPStatus: http.StatusOK, Err: err}
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int(x), nil
	case map[string]any:
		for _, k := range []string{"deleted", "deletedCount", "n"} {
			if n, ok := x[k].(float64); ok {
				return int(n), nil
			}
		}
	}
	return 0, &MalformedResponse{HTTPStatus: http.StatusOK, Err: fmt.Errorf("unexpected delete result %s", b)}
}

// eventPath renders /{slug}/{key}. An empty key leaves a trailing slash.
func eventPath(slug, key string) string {
	return "/" + url.PathEscape(slug) + "/" + url.PathEscape(key)
}

// requireSlug returns slug trimmed, the form used in both path and body.
func requireSlug(slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", event.ErrSlugRequired
	}
	return slug, nil
}
