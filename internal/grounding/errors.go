package grounding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match with errors.Is.
var (
	ErrAuth              = errors.New("auth error")
	ErrBadRequest        = errors.New("bad request")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCancelled         = errors.New("cancelled")
)

// APIError describes a failed call. It unwraps to its Kind and its cause.
type APIError struct {
	Kind       error
	StatusCode int
	// Body is the raw upstream response for non-2xx replies.
	Body string
	Err  error
}

func (e *APIError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is a transient failure: network trouble or rate limiting.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded)
}

// Kind returns the sentinel kind carried by err, or nil when err is not from this package.
func Kind(err error) error {
	for _, k := range []error{ErrCancelled, ErrAuth, ErrBadRequest, ErrRateLimitExceeded, ErrNetwork, ErrMalformedResponse} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func statusError(code int, body string) *APIError {
	e := &APIError{StatusCode: code, Body: body}
	switch {
	case code == http.StatusTooManyRequests:
		e.Kind = ErrRateLimitExceeded
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Kind = ErrAuth
	case code >= 500:
		e.Kind = ErrNetwork
	default:
		e.Kind = ErrBadRequest
	}
	return e
}

// transportError classifies a failure from http.Client.Do. A done context wins
// over the underlying error so cancellation is never retried.
func transportError(ctx context.Context, err error) *APIError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &APIError{Kind: ErrCancelled, Err: ctxErr}
	}
	return &APIError{Kind: ErrNetwork, Err: err}
}
