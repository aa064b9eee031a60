package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pinger is implemented by remote indexes that can check server health
// without retries.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether an index can serve requests.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// IndexHealthChecker probes an Index with Ping when available, otherwise
// with Info. Wrappers exposing Unwrap are looked through.
type IndexHealthChecker struct {
	index   Index
	timeout time.Duration
}

// NewIndexHealthChecker creates a checker bounding each probe by timeout.
func NewIndexHealthChecker(index Index, timeout time.Duration) *IndexHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IndexHealthChecker{index: index, timeout: timeout}
}

// IsHealthy returns true when the probe succeeds.
func (c *IndexHealthChecker) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.index
	for {
		u, ok := target.(interface{ Unwrap() Index })
		if !ok {
			break
		}
		target = u.Unwrap()
	}
	if p, ok := target.(Pinger); ok {
		return p.Ping(ctx) == nil
	}
	_, err := c.index.Info(ctx)
	return err == nil
}

// HealthMonitor periodically probes an index and notifies callbacks when
// its health changes.
type HealthMonitor struct {
	checker       HealthChecker
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	checkInterval time.Duration
	mu            sync.RWMutex
	callbacks     []func(bool)
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
}

// NewHealthMonitor creates a monitor. The index is assumed healthy until a
// probe or MarkUnhealthy says otherwise.
func NewHealthMonitor(ctx context.Context, checker HealthChecker, checkInterval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	hm := &HealthMonitor{
		checker:       checker,
		checkInterval: checkInterval,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
	hm.healthy.Store(true)
	hm.lastCheck.Store(time.Time{})
	return hm
}

// Start begins periodic probing until Stop is called.
func (hm *HealthMonitor) Start() {
	go hm.runPeriodicCheck()
}

func (hm *HealthMonitor) runPeriodicCheck() {
	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.Check(hm.ctx)
		}
	}
}

// Check probes once and updates the health status.
func (hm *HealthMonitor) Check(ctx context.Context) bool {
	healthy := hm.checker.IsHealthy(ctx)
	RecordHealthCheckResult(healthy)
	hm.updateHealth(healthy)
	return healthy
}

// MarkUnhealthy records a failure observed outside a probe.
func (hm *HealthMonitor) MarkUnhealthy() {
	hm.updateHealth(false)
	HealthStatus.Set(0)
}

func (hm *HealthMonitor) updateHealth(healthy bool) {
	old := hm.healthy.Swap(healthy)
	hm.lastCheck.Store(time.Now())

	if old != healthy {
		hm.logger.Info("index health changed",
			zap.Bool("healthy", healthy),
			zap.Bool("previous", old))
		hm.notifyCallbacks(healthy)
	}
}

// IsHealthy returns the last known health status.
func (hm *HealthMonitor) IsHealthy() bool {
	return hm.healthy.Load()
}

// LastCheck returns the time of the last status update.
func (hm *HealthMonitor) LastCheck() time.Time {
	t, _ := hm.lastCheck.Load().(time.Time)
	return t
}

// RegisterCallback adds a callback invoked on every health change.
func (hm *HealthMonitor) RegisterCallback(cb func(bool)) error {
	if cb == nil {
		return fmt.Errorf("health: callback cannot be nil")
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.callbacks = append(hm.callbacks, cb)
	return nil
}

// notifyCallbacks copies the callbacks under the read lock and fires them
// without holding it.
func (hm *HealthMonitor) notifyCallbacks(healthy bool) {
	hm.mu.RLock()
	callbacks := make([]func(bool), len(hm.callbacks))
	copy(callbacks, hm.callbacks)
	hm.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					hm.logger.Error("health callback panic", zap.Any("panic", r))
				}
			}()
			cb(healthy)
		}()
	}
}

// Stop ends periodic probing.
func (hm *HealthMonitor) Stop() {
	hm.cancel()
}
