// Package embeddings converts text to fixed-length vectors.
//
// Three providers are available: a deterministic local feature-hash
// provider, an OpenAI-compatible HTTP provider (OpenAI, TEI) via langchaingo,
// and a local ONNX provider via FastEmbed (cgo builds only).
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments embeds texts in order. One vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension and owned resources.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// Provider names.
const (
	ProviderHash      = "hash"
	ProviderOpenAI    = "openai"
	ProviderFastEmbed = "fastembed"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "hash", "openai" or "fastembed".
	Provider string
	// Dimension applies to the hash provider only.
	Dimension int
	// Model is the embedding model name (openai, fastembed).
	Model string
	// BaseURL is the OpenAI-compatible endpoint (OpenAI or TEI).
	BaseURL string
	// APIKey is optional for TEI.
	APIKey string
	// CacheDir is the model cache directory (fastembed).
	CacheDir string
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderHash, "":
		return NewHashProvider(cfg.Dimension), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case ProviderFastEmbed:
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
func detectDimensionFromModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	}
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	return 384
}
