package rag

import (
	"errors"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
	"github.com/fyrsmithlabs/digitaltwin/internal/followup"
	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

// ErrValidation is returned for malformed requests before any I/O.
var ErrValidation = errors.New("invalid request")

// Error sentinels of the pipeline stages, re-exported so transports need
// only this package.
var (
	ErrConfiguration     = config.ErrConfiguration
	ErrStoreUnavailable  = vectorstore.ErrStoreUnavailable
	ErrGeneration        = generation.ErrGeneration
	ErrFollowUp          = followup.ErrFollowUp
	ErrDimensionMismatch = embeddings.ErrDimensionMismatch
)

// PublicMessage returns a caller-safe description of err. Upstream detail
// is logged, never returned.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return "vector store unavailable"
	case errors.Is(err, generation.ErrRateLimited):
		return "generation service rate limited, try again later"
	case errors.Is(err, generation.ErrAuth):
		return "generation service rejected its credentials"
	case errors.Is(err, generation.ErrUnavailable):
		return "generation service unavailable"
	case errors.Is(err, ErrGeneration):
		return "failed to generate a response"
	case errors.Is(err, ErrFollowUp):
		return "failed to generate a follow-up question"
	case errors.Is(err, ErrConfiguration):
		return "service is misconfigured"
	default:
		return "internal error"
	}
}
