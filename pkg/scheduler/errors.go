package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"eventsched/pkg/event"
)

// Kind classifies a failure returned by the client.
type Kind uint8

const (
	// KindTransport: no usable response was obtained (connection failure,
	// timeout, malformed response).
	KindTransport Kind = iota
	// KindValidation: rejected locally before any network attempt.
	KindValidation
	// KindNotFound: no event exists where one was required.
	KindNotFound
	// KindRemote: the service answered and reported a logical failure.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRemote:
		return "remote"
	default:
		return "transport"
	}
}

// Error is the only error type returned by Client operations.
type Error struct {
	Kind    Kind
	Status  int
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("scheduler: %s error (%d): %s", e.Kind, e.Status, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is (or wraps) a client *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// StatusOf returns the status carried by a client error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// StatusCoder is implemented by transport errors that know the HTTP status
// they were produced from.
type StatusCoder interface {
	StatusCode() int
}

// RemoteFailure is the raw form of an error reported in a response envelope.
type RemoteFailure struct {
	Message string
	// Status from the error payload; 0 when absent.
	Status int
	// HTTPStatus of the response that carried the payload.
	HTTPStatus int
}

func (f *RemoteFailure) Error() string { return "remote: " + f.Message }

// NotFoundFailure is the raw form of "nothing stored at (slug, key)".
type NotFoundFailure struct {
	Slug    string
	Key     string
	Message string
}

func (f *NotFoundFailure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	return fmt.Sprintf("no event at %s/%s", f.Slug, f.Key)
}

// MalformedResponse means the service answered with something that is not a
// usable envelope.
type MalformedResponse struct {
	HTTPStatus int
	Err        error
}

func (m *MalformedResponse) Error() string {
	return fmt.Sprintf("malformed response (http %d): %v", m.HTTPStatus, m.Err)
}

func (m *MalformedResponse) Unwrap() error { return m.Err }

// Normalize maps any failure to a client *Error. It is a pure function:
// nil maps to nil and an existing *Error is returned unchanged.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, event.ErrSlugRequired) {
		return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: event.ErrSlugRequired.Error(), Err: err}
	}
	var ve *validationFailure
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: ve.msg, Err: err}
	}

	var nf *NotFoundFailure
	if errors.As(err, &nf) {
		return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: nf.Error(), Err: err}
	}

	var rf *RemoteFailure
	if errors.As(err, &rf) {
		st := rf.Status
		if st <= 0 {
			st = rf.HTTPStatus
		}
		if st < 400 {
			st = http.StatusInternalServerError
		}
		msg := strings.TrimSpace(rf.Message)
		if msg == "" {
			msg = http.StatusText(st)
		}
		return &Error{Kind: KindRemote, Status: st, Message: msg, Err: err}
	}

	st := 0
	var mr *MalformedResponse
	if errors.As(err, &mr) {
		st = mr.HTTPStatus
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		st = sc.StatusCode()
	}
	if st < 400 {
		st = http.StatusInternalServerError
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out: " + msg
	case errors.Is(err, context.Canceled):
		msg = "request canceled: " + msg
	}
	return &Error{Kind: KindTransport, Status: st, Message: msg, Err: err}
}

type validationFailure struct{ msg string }

func (v *validationFailure) Error() string { return v.msg }

func invalid(format string, args ...any) error {
	return &validationFailure{msg: fmt.Sprintf(format, args...)}
}

// fail normalizes err, returning a plain nil error for nil input.
func fail(err error) error {
	if e := Normalize(err); e != nil {
		return e
	}
	return nil
}
