// Package limits provides the process-wide bounded pools shared by all
// concurrently running jobs, plus the generic retry policy applied to
// rate-limited external calls.
package limits

import (
	"context"
	"fmt"
	"sync"
)

// Pool names every caller must use. Sizes come from configuration, not
// from the call sites.
const (
	PoolRender = "render"
	PoolReason = "reason"
)

// Controller owns the named semaphores. One Controller exists per
// process and is shared by every job.
type Controller struct {
	mu    sync.RWMutex
	pools map[string]chan struct{}
}

// NewController creates pools with the given sizes. A size below one is
// clamped to one so a misconfigured pool degrades to serial execution
// instead of deadlocking.
func NewController(sizes map[string]int) *Controller {
	pools := make(map[string]chan struct{}, len(sizes))
	for name, n := range sizes {
		if n < 1 {
			n = 1
		}
		pools[name] = make(chan struct{}, n)
	}
	return &Controller{pools: pools}
}

// Release frees an acquired slot. Safe to call more than once.
type Release func()

// Acquire blocks until a slot in the named pool is free or ctx is done.
// The returned Release must be called on every path, including failure.
func (c *Controller) Acquire(ctx context.Context, pool string) (Release, error) {
	c.mu.RLock()
	sem, ok := c.pools[pool]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", pool)
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

// Size reports a pool's capacity; zero for unknown pools.
func (c *Controller) Size(pool string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cap(c.pools[pool])
}
