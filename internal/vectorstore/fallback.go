package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FallbackConfig configures a FallbackIndex.
type FallbackConfig struct {
	// ProbeInterval is how often the primary is probed while degraded.
	// Default: 30s
	ProbeInterval time.Duration
	// ProbeTimeout bounds each probe.
	// Default: 5s
	ProbeTimeout time.Duration
}

// FallbackIndex serves from a remote primary and falls back to a local
// secondary while the primary is unavailable.
//
// Writes always go to the secondary so it can answer queries on its own;
// they also go to the primary while it is healthy. When a primary call
// fails with ErrStoreUnavailable the index switches to the secondary until
// a health probe succeeds. Writes made while degraded are not replayed to
// the primary.
type FallbackIndex struct {
	primary   Index
	secondary Index
	health    *HealthMonitor
	logger    *zap.Logger
}

// NewFallbackIndex wraps primary and secondary and starts health probing.
func NewFallbackIndex(ctx context.Context, primary, secondary Index, config FallbackConfig, logger *zap.Logger) (*FallbackIndex, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: fallback: primary index is required", ErrInvalidConfig)
	}
	if secondary == nil {
		return nil, fmt.Errorf("%w: fallback: secondary index is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	health := NewHealthMonitor(ctx, NewIndexHealthChecker(primary, config.ProbeTimeout), config.ProbeInterval, logger)
	f := &FallbackIndex{
		primary:   primary,
		secondary: secondary,
		health:    health,
		logger:    logger,
	}
	_ = health.RegisterCallback(func(healthy bool) {
		if healthy {
			logger.Info("primary index recovered, leaving fallback mode")
		} else {
			logger.Warn("primary index unavailable, serving from fallback index")
		}
	})
	health.Start()
	return f, nil
}

// Degraded reports whether queries are served by the secondary.
func (f *FallbackIndex) Degraded() bool {
	return !f.health.IsHealthy()
}

// Health returns the primary's health monitor.
func (f *FallbackIndex) Health() *HealthMonitor {
	return f.health
}

// primaryFailed switches to the secondary when err means the primary is unavailable.
func (f *FallbackIndex) primaryFailed(op string, err error) bool {
	if !errors.Is(err, ErrStoreUnavailable) {
		return false
	}
	f.logger.Warn("primary index call failed",
		zap.String("operation", op),
		zap.String("kind", KindOf(err).String()),
		zap.Error(err),
	)
	f.health.MarkUnhealthy()
	return true
}

// Upsert writes to the secondary, then to the primary while it is healthy.
func (f *FallbackIndex) Upsert(ctx context.Context, records []Record) error {
	if err := f.secondary.Upsert(ctx, records); err != nil {
		return fmt.Errorf("fallback upsert: %w", err)
	}
	if !f.health.IsHealthy() {
		return nil
	}
	if err := f.primary.Upsert(ctx, records); err != nil && !f.primaryFailed("upsert", err) {
		return err
	}
	return nil
}

// Query asks the primary while it is healthy, otherwise the secondary.
func (f *FallbackIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if f.health.IsHealthy() {
		matches, err := f.primary.Query(ctx, q)
		if err == nil {
			return matches, nil
		}
		if !f.primaryFailed("query", err) {
			return nil, err
		}
	}
	FallbackQueriesTotal.Inc()
	return f.secondary.Query(ctx, q)
}

// Info reports the smaller vector count of the two indexes while the
// primary is healthy, so an empty secondary triggers a reload.
func (f *FallbackIndex) Info(ctx context.Context) (Info, error) {
	local, err := f.secondary.Info(ctx)
	if err != nil {
		return Info{}, err
	}
	if !f.health.IsHealthy() {
		local.Provider = "fallback:" + local.Provider
		return local, nil
	}

	remote, err := f.primary.Info(ctx)
	if err != nil {
		if !f.primaryFailed("info", err) {
			return Info{}, err
		}
		local.Provider = "fallback:" + local.Provider
		return local, nil
	}
	if local.VectorCount < remote.VectorCount {
		remote.VectorCount = local.VectorCount
	}
	return remote, nil
}

// Reset clears both indexes. An unavailable primary is reported after the
// secondary has been cleared.
func (f *FallbackIndex) Reset(ctx context.Context) error {
	if err := f.secondary.Reset(ctx); err != nil {
		return fmt.Errorf("fallback reset: %w", err)
	}
	if err := f.primary.Reset(ctx); err != nil {
		f.primaryFailed("reset", err)
		return err
	}
	return nil
}

// Close stops probing and closes both indexes.
func (f *FallbackIndex) Close() error {
	f.health.Stop()
	return errors.Join(f.primary.Close(), f.secondary.Close())
}

var _ Index = (*FallbackIndex)(nil)
