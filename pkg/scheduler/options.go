package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventsched/pkg/logx"
)

type Option func(*Client)

// WithTransport sets the Transport used for every request.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.tr = t }
}

// WithLogger sets the client logger.
func WithLogger(l logx.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithCompensationHook adds a hook observing compensation stages.
// Hooks are called in the order they were added.
func WithCompensationHook(h CompensationHook) Option {
	return func(c *Client) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

const maxResponseBytes = 8 << 20

// httpTransport is the fallback when no Transport is given: one attempt,
// no rate limiting. The httptransport package has the full-featured one.
type httpTransport struct {
	hc *http.Client
}

func defaultTransport() Transport {
	return &httpTransport{hc: &http.Client{Timeout: 30 * time.Second}}
}

func (t *httpTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}
