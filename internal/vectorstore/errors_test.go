package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStoreError_IsStoreUnavailable(t *testing.T) {
	tests := []struct {
		kind        Kind
		unavailable bool
	}{
		{KindInternal, false},
		{KindUnauthorized, true},
		{KindUnavailable, true},
		{KindRateLimited, true},
		{KindNotFound, false},
		{KindInvalid, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("search: %w", &StoreError{Op: "query", Kind: tt.kind, Err: errors.New("boom")})
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrStoreUnavailable))
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestStoreError_Message(t *testing.T) {
	err := &StoreError{Op: "query", Kind: KindRateLimited, Err: errors.New("slow down")}
	assert.Equal(t, "vectorstore query: rate_limited: slow down", err.Error())
	assert.Equal(t, "vectorstore info: unavailable", (&StoreError{Op: "info", Kind: KindUnavailable}).Error())
}

func TestKindOf_NoStoreError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"canceled", context.Canceled, KindInternal},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "x"), KindUnauthorized},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "x"), KindUnauthorized},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), KindUnavailable},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "x"), KindRateLimited},
		{"grpc not found", status.Error(codes.NotFound, "x"), KindNotFound},
		{"grpc invalid", status.Error(codes.InvalidArgument, "x"), KindInvalid},
		{"qdrant exhausted", &qdrant.QdrantResourceExhaustedError{RetryAfterS: 1}, KindRateLimited},
		{"net error", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindUnavailable},
		{"plain", errors.New("x"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestKindFromHTTPStatus(t *testing.T) {
	assert.Equal(t, KindUnauthorized, kindFromHTTPStatus(http.StatusUnauthorized))
	assert.Equal(t, KindUnauthorized, kindFromHTTPStatus(http.StatusForbidden))
	assert.Equal(t, KindRateLimited, kindFromHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, KindNotFound, kindFromHTTPStatus(http.StatusNotFound))
	assert.Equal(t, KindUnavailable, kindFromHTTPStatus(http.StatusRequestTimeout))
	assert.Equal(t, KindUnavailable, kindFromHTTPStatus(http.StatusInternalServerError))
	assert.Equal(t, KindUnavailable, kindFromHTTPStatus(http.StatusGatewayTimeout))
	assert.Equal(t, KindInvalid, kindFromHTTPStatus(http.StatusBadRequest))
}

func TestWrapErr_KeepsStoreError(t *testing.T) {
	inner := &StoreError{Op: "query", Kind: KindUnauthorized}
	assert.Same(t, inner, wrapErr("other", inner))
	assert.Nil(t, wrapErr("op", nil))

	wrapped := wrapErr("health", status.Error(codes.Unavailable, "down"))
	var se *StoreError
	assert.ErrorAs(t, wrapped, &se)
	assert.Equal(t, "health", se.Op)
	assert.Equal(t, KindUnavailable, se.Kind)
}
