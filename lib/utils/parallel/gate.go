package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission control primitive: at most `capacity` units
// of work hold a slot at any instant. Acquire suspends the caller until a
// slot frees up, which is what provides backpressure to whoever is producing
// work faster than it completes.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
}

func NewGate(capacity int) *Gate {
	if capacity < 1 {
		panic(fmt.Sprintf("gate capacity must be positive, got %d", capacity))
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// owns one slot and must Release it exactly once, on every exit path.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by a successful Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Capacity() int64 {
	return g.capacity
}
