package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Sentinel errors. Every *Error matches ErrGeneration; the kind sentinels
// match only errors of that kind.
var (
	ErrGeneration  = errors.New("generation failed")
	ErrAuth        = errors.New("generation credentials rejected")
	ErrRateLimited = errors.New("generation rate limited")
	ErrUnavailable = errors.New("generation service unavailable")
)

// Kind classifies a generation failure.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindRateLimited
	KindUnavailable
	KindEmpty
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	case KindEmpty:
		return "empty"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error is the structured error returned by ChatClient implementations.
// StatusCode is the upstream HTTP status, or 0 when no response was received.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := "generation " + e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrGeneration for every kind and the kind's own sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrGeneration:
		return true
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// wrapErr classifies err into an *Error. Existing *Errors and context
// cancellation pass through unchanged.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind, status := classify(err)
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

func classify(err error) (Kind, int) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable, 0
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return kindFromHTTPStatus(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return kindFromHTTPStatus(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable, 0
	}
	return KindInternal, 0
}

func kindFromHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindInvalid
	default:
		return KindInternal
	}
}

// retryable reports whether a request failing with kind may succeed later.
func retryable(kind Kind) bool {
	return kind == KindUnavailable || kind == KindRateLimited
}
