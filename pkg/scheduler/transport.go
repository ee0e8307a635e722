package scheduler

import (
	"context"
	"net/http"
)

// Request is a single exchange with the scheduler service.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what came back. Non-2xx statuses are responses, not errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs the raw request/response exchange.
//
// Implementations own timeouts and retries. An error means no response was
// obtainable; if it implements StatusCoder its status is kept when the
// client normalizes it.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }
