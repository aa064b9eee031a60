package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/qdrant/go-client/qdrant"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrStoreUnavailable matches every StoreError whose Kind is Unauthorized,
// Unavailable or RateLimited. Callers may degrade instead of failing.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Kind classifies a store failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindUnavailable
	KindRateLimited
	KindNotFound
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Unavailable reports whether the kind means the store cannot serve right now.
func (k Kind) Unavailable() bool {
	return k == KindUnauthorized || k == KindUnavailable || k == KindRateLimited
}

// StoreError is the structured error returned by Index implementations.
type StoreError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vectorstore %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("vectorstore %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreUnavailable) true for unavailable kinds.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable && e.Kind.Unavailable()
}

// KindOf returns the Kind of the first StoreError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// wrapErr classifies err and wraps it in a StoreError. Errors that are
// already StoreErrors are returned unchanged.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return KindInternal
	}

	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return KindRateLimited
	}
	if st, ok := status.FromError(err); ok && st.Code() != grpccodes.Unknown {
		return kindFromGRPC(st.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindInternal
}

// kindFromGRPC maps a gRPC status code to a Kind.
func kindFromGRPC(code grpccodes.Code) Kind {
	switch code {
	case grpccodes.Unauthenticated, grpccodes.PermissionDenied:
		return KindUnauthorized
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted:
		return KindUnavailable
	case grpccodes.ResourceExhausted:
		return KindRateLimited
	case grpccodes.NotFound:
		return KindNotFound
	case grpccodes.InvalidArgument, grpccodes.FailedPrecondition, grpccodes.OutOfRange, grpccodes.AlreadyExists:
		return KindInvalid
	default:
		return KindInternal
	}
}

// kindFromHTTPStatus maps an HTTP response status to a Kind.
func kindFromHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusRequestTimeout, code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindInvalid
	default:
		return KindInternal
	}
}

// transient reports whether an operation failing with kind may succeed on retry.
func transient(kind Kind) bool {
	return kind == KindUnavailable || kind == KindRateLimited
}
