// Package httptransport is the net/http Transport for scheduler.Client.
//
// Each request goes through a token-bucket limiter and a per-host
// consecutive-failure circuit breaker. Idempotent requests (GET, PUT,
// DELETE) are retried on network errors and on 429/502/503/504 with
// exponential backoff plus jitter, honoring Retry-After.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"eventsched/pkg/logx"
	"eventsched/pkg/scheduler"
)

var (
	ErrCircuitOpen = errors.New("request skipped: circuit breaker open")
)

// Error is returned when no response could be obtained.
type Error struct {
	// Status is 0 for network failures.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("http transport (%d): %v", e.Status, e.Err)
	}
	return "http transport: " + e.Err.Error()
}

func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) StatusCode() int { return e.Status }

type Config struct {
	// Timeout bounds a single attempt. Zero means 10s.
	Timeout time.Duration

	// RatePerSec limits outgoing attempts. Zero disables the limiter.
	RatePerSec float64
	Burst      int

	// RetryMax is the number of retries after the first attempt.
	// Zero means 2; negative disables retries.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64

	// CircuitTripFailures consecutive failures open the circuit.
	// Zero means 5; negative disables the breaker.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration

	UserAgent string

	// MaxResponseBytes caps the body read. Zero means 8 MiB.
	MaxResponseBytes int64
}

type Transport struct {
	cfg atomic.Pointer[Config]

	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	circuits circuitStore

	rngMu sync.Mutex
	rng   *rand.Rand

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Transport)

func WithLogger(l logx.Logger) Option { return func(t *Transport) { t.log = l } }

// WithHTTPClient replaces the underlying client. Its Timeout is ignored;
// attempts are bounded by Config.Timeout through the request context.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transport) {
		if hc != nil {
			t.hc = hc
		}
	}
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		hc:      &http.Client{},
		limiter: rate.NewLimiter(rate.Inf, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	t.log = t.log.With(logx.String("comp", "httptransport"))
	t.Apply(cfg)
	return t
}

// Apply swaps the configuration. The limiter is adjusted in place so
// waiting callers keep their reservations.
func (t *Transport) Apply(cfg Config) {
	cp := cfg
	t.cfg.Store(&cp)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		t.limiter.SetBurst(burst)
	} else {
		t.limiter.SetLimit(rate.Inf)
	}
}

func (t *Transport) config() Config {
	if p := t.cfg.Load(); p != nil {
		return *p
	}
	return Config{}
}

// Do implements scheduler.Transport.
func (t *Transport) Do(ctx context.Context, req *scheduler.Request) (*scheduler.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := t.config()
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("parse url: %w", err)}
	}
	host := u.Host

	if open, until := t.circuitIsOpen(t.now(), host, cfg); open {
		return nil, &Error{Status: http.StatusServiceUnavailable, Err: fmt.Errorf("%w until %s", ErrCircuitOpen, until.Format(time.RFC3339))}
	}

	retryMax := cfg.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	if retryMax < 0 || !idempotent(req.Method) {
		retryMax = 0
	}

	var (
		resp    *scheduler.Response
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		resp, lastErr = t.attempt(ctx, cfg, req)

		retryable, hint := classify(resp, lastErr)
		if !retryable || attempt >= retryMax || ctx.Err() != nil {
			break
		}
		d := t.backoff(cfg, attempt+1, hint)
		t.log.Debug("retrying request",
			logx.String("method", req.Method),
			logx.String("host", host),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", d),
			logx.Err(lastErr),
		)
		if err := t.sleep(ctx, d); err != nil {
			if lastErr == nil {
				lastErr = err
				resp = nil
			}
			break
		}
	}

	failed := lastErr != nil || (resp != nil && resp.StatusCode >= 500)
	var recErr error
	if failed {
		recErr = errors.New("request failed")
	}
	t.circuitRecordResult(t.now(), host, cfg, recErr)

	if lastErr != nil {
		var te *Error
		if errors.As(lastErr, &te) {
			return nil, te
		}
		return nil, &Error{Err: lastErr}
	}
	return resp, nil
}

func (t *Transport) attempt(ctx context.Context, cfg Config, r *scheduler.Request) (*scheduler.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(actx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	hr, err := t.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer hr.Body.Close()

	limit := cfg.MaxResponseBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	b, err := io.ReadAll(io.LimitReader(hr.Body, limit))
	if err != nil {
		return nil, &Error{Status: hr.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return &scheduler.Response{StatusCode: hr.StatusCode, Header: hr.Header, Body: b}, nil
}

func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// classify decides whether an attempt is worth retrying and returns the
// server's Retry-After hint, if any.
func classify(resp *scheduler.Response, err error) (bool, time.Duration) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, 0
		}
		return true, 0
	}
	if resp == nil {
		return false, 0
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return false, 0
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func (t *Transport) backoff(cfg Config, retry int, hint time.Duration) time.Duration {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return backoffDelayWithHint(cfg, retry, hint, t.rng)
}

func backoffDelayWithHint(cfg Config, retry int, hint time.Duration, rng *rand.Rand) time.Duration {
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	j := cfg.RetryJitter
	if j <= 0 {
		j = 0.2
	}

	var d time.Duration
	if hint > 0 {
		d = hint
	} else {
		base := cfg.RetryBase
		if base <= 0 {
			base = 250 * time.Millisecond
		}
		d = base
		for i := 1; i < retry; i++ {
			d *= 2
			if d > maxD {
				d = maxD
				break
			}
		}
	}
	if d > maxD {
		d = maxD
	}
	// Jitter on top of hints too, so clients told the same Retry-After
	// don't come back together.
	if j > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}
