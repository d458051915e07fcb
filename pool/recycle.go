package pool

import (
	"time"

	"github.com/kyoto-spv/kyoto/queue"
)

// Recycle is a pool of reusable items backed by a garbage-collecting queue:
// items that go unused for longer than expiryInterval are released back to
// the runtime instead of being retained indefinitely.
type Recycle struct {
	q *queue.GCQueue
}

// NewRecycle returns a Recycle pool that constructs new items via newItem
// when none are available, and periodically (every gcInterval) releases
// items that have sat idle for at least expiryInterval. returnQueueSize
// bounds the number of items that can be in flight back to the pool before
// further returns are dropped rather than blocking the caller.
func NewRecycle(newItem func() interface{}, returnQueueSize int,
	gcInterval, expiryInterval time.Duration) *Recycle {

	return &Recycle{
		q: queue.NewGCQueue(
			newItem, returnQueueSize, gcInterval, expiryInterval,
		),
	}
}

// Take returns an item from the pool, constructing a fresh one if none are
// currently idle.
func (r *Recycle) Take() interface{} {
	return r.q.Take()
}

// Return releases an item back to the pool for reuse.
func (r *Recycle) Return(item interface{}) {
	r.q.Return(item)
}
