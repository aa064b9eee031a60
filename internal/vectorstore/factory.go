package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
)

// NewIndex creates the index selected by cfg.VectorStore.Provider, wrapped
// with instrumentation. With fallback enabled and a remote provider, the
// result is a FallbackIndex over an in-memory secondary. A remote primary
// that cannot be reached at startup leaves the secondary serving alone.
func NewIndex(ctx context.Context, cfg *config.Config, embedder embeddings.Provider, logger *zap.Logger) (Index, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	vs := cfg.VectorStore

	primary, err := newProviderIndex(ctx, cfg, embedder, logger)
	remote := vs.Provider == config.VectorStoreQdrant || vs.Provider == config.VectorStoreUpstash
	if !remote || !vs.Fallback.Enabled {
		if err != nil {
			return nil, err
		}
		return Instrument(primary, vs.Provider), nil
	}

	secondary, serr := NewMemoryIndex(embedder, WithThreshold(threshold(cfg)), WithMemoryLogger(logger))
	if serr != nil {
		if err == nil {
			_ = primary.Close()
		}
		return nil, fmt.Errorf("creating fallback index: %w", serr)
	}

	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		logger.Warn("primary index unreachable at startup, serving from fallback only",
			zap.String("provider", vs.Provider),
			zap.Error(err),
		)
		return Instrument(secondary, config.VectorStoreMemory), nil
	}

	fallback, err := NewFallbackIndex(ctx,
		Instrument(primary, vs.Provider),
		Instrument(secondary, config.VectorStoreMemory),
		FallbackConfig{
			ProbeInterval: vs.Fallback.ProbeInterval.Duration(),
			ProbeTimeout:  vs.Timeout.Duration(),
		},
		logger,
	)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return fallback, nil
}

func newProviderIndex(ctx context.Context, cfg *config.Config, embedder embeddings.Provider, logger *zap.Logger) (Index, error) {
	vs := cfg.VectorStore

	switch vs.Provider {
	case config.VectorStoreMemory, "":
		if embedder == nil {
			return nil, fmt.Errorf("%w: memory index requires an embedder", ErrInvalidConfig)
		}
		return NewMemoryIndex(embedder, WithThreshold(threshold(cfg)), WithMemoryLogger(logger))

	case config.VectorStoreChromem:
		if embedder == nil {
			return nil, fmt.Errorf("%w: chromem index requires an embedder", ErrInvalidConfig)
		}
		return NewChromemIndex(ChromemConfig{
			Path:       vs.Chromem.Path,
			Compress:   vs.Chromem.Compress,
			Collection: vs.Chromem.Collection,
			Dimension:  embedder.Dimension(),
		}, embedder, logger)

	case config.VectorStoreQdrant:
		if embedder == nil {
			return nil, fmt.Errorf("%w: qdrant index requires an embedder", ErrInvalidConfig)
		}
		return NewQdrantIndex(ctx, QdrantConfig{
			Host:         vs.Qdrant.Host,
			Port:         vs.Qdrant.Port,
			APIKey:       vs.Qdrant.APIKey.Value(),
			UseTLS:       vs.Qdrant.UseTLS,
			Collection:   vs.Qdrant.Collection,
			Dimension:    uint64(embedder.Dimension()),
			Timeout:      vs.Timeout.Duration(),
			MaxRetries:   vs.Qdrant.MaxRetries,
			RetryBackoff: vs.Qdrant.RetryBackoff.Duration(),
		}, embedder, logger)

	case config.VectorStoreUpstash:
		return NewUpstashIndex(UpstashConfig{
			URL:     vs.Upstash.URL,
			Token:   vs.Upstash.Token.Value(),
			Timeout: vs.Timeout.Duration(),
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, vs.Provider)
	}
}

// threshold is the configured retrieval floor. Config loading supplies the
// default, so an explicit 0 here keeps every non-negative match.
func threshold(cfg *config.Config) float64 {
	return cfg.Retrieval.Threshold
}
