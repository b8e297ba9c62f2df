// Package resource enforces the engine-wide budgets: the data-size ceiling
// derived from the configured maximum store size, background worker
// concurrency, and IO throughput for maintenance tasks.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// DataLimitBytes caps the managed in-memory data size. Zero means no
	// hard limit, usage is still tracked.
	DataLimitBytes int64

	// MaxBackgroundWorkers bounds concurrent background jobs (snapshot
	// writes, archival uploads). Zero defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec throttles background IO. Zero means unlimited.
	IOLimitBytesPerSec int64
}

// Controller tracks and enforces the configured budgets. A nil Controller
// enforces nothing.
type Controller struct {
	cfg Config

	dataSem  *semaphore.Weighted // nil if unlimited
	dataUsed atomic.Int64

	bgSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.DataLimitBytes > 0 {
		c.dataSem = semaphore.NewWeighted(cfg.DataLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// ReserveData reserves bytes against the data-size ceiling, blocking until
// space is available or ctx is canceled.
func (c *Controller) ReserveData(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.dataSem != nil {
		if err := c.dataSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.dataUsed.Add(bytes)
	return nil
}

// TryReserveData reserves bytes without blocking. Returns false when the
// ceiling would be exceeded.
func (c *Controller) TryReserveData(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.dataSem != nil && !c.dataSem.TryAcquire(bytes) {
		return false
	}
	c.dataUsed.Add(bytes)
	return true
}

// ReleaseData returns reserved bytes to the budget.
func (c *Controller) ReleaseData(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.dataSem != nil {
		c.dataSem.Release(bytes)
	}
	c.dataUsed.Add(-bytes)
}

// DataUsage returns the currently reserved bytes.
func (c *Controller) DataUsage() int64 {
	if c == nil {
		return 0
	}
	return c.dataUsed.Load()
}

// AcquireBackground reserves a background worker slot, blocking while all
// slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit allows bytes to be transferred.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}
