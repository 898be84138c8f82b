// Package resource bounds the load an index puts on a remote service.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds request limits.
type Config struct {
	// MaxInFlight is the maximum number of concurrent requests.
	// If 0, defaults to 1.
	MaxInFlight int64

	// RequestsPerSecond caps the request rate. If 0, unlimited.
	RequestsPerSecond float64

	// MaxPendingBytes bounds the total payload of requests in flight.
	// If 0, payloads are tracked but not limited.
	MaxPendingBytes int64
}

// Controller hands out request slots. A nil *Controller admits everything.
type Controller struct {
	cfg Config

	slots   *semaphore.Weighted
	bytes   *semaphore.Weighted // nil if unlimited
	pending atomic.Int64
	limiter *rate.Limiter // nil if unlimited
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}

	c := &Controller{
		cfg:   cfg,
		slots: semaphore.NewWeighted(cfg.MaxInFlight),
	}
	if cfg.MaxPendingBytes > 0 {
		c.bytes = semaphore.NewWeighted(cfg.MaxPendingBytes)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.MaxInFlight)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Acquire waits for a request slot, the rate limiter and payload room for
// size bytes. The returned func releases the slot and the payload.
func (c *Controller) Acquire(ctx context.Context, size int64) (release func(), err error) {
	if c == nil {
		return func() {}, nil
	}
	if size < 0 {
		size = 0
	}
	if c.bytes != nil && size > c.cfg.MaxPendingBytes {
		// A single oversized request still goes through, alone.
		size = c.cfg.MaxPendingBytes
	}

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if c.bytes != nil {
		if err := c.bytes.Acquire(ctx, size); err != nil {
			c.slots.Release(1)
			return nil, err
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.releaseBytes(size)
			c.slots.Release(1)
			return nil, err
		}
	}
	c.pending.Add(size)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.pending.Add(-size)
			c.releaseBytes(size)
			c.slots.Release(1)
		}
	}, nil
}

func (c *Controller) releaseBytes(n int64) {
	if c.bytes != nil && n > 0 {
		c.bytes.Release(n)
	}
}

// PendingBytes returns the payload size of requests in flight.
func (c *Controller) PendingBytes() int64 {
	if c == nil {
		return 0
	}
	return c.pending.Load()
}
