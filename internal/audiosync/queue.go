package audiosync

import (
	"sync"

	"github.com/tapedeck-io/tapedeck/internal/player"
)

// updateQueue is a thread-safe FIFO of playback snapshots.
//
// The queue is unbounded: snapshot producers (lifecycle notifications,
// poll ticks, user operations) must never block on the sync loop.
// A buffered size-1 channel signals availability so the Run loop can
// wait with context awareness; multiple signals coalesce.
type updateQueue struct {
	mu      sync.Mutex
	updates []player.Snapshot
	closed  bool
	signal  chan struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{
		updates: make([]player.Snapshot, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a snapshot to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *updateQueue) Enqueue(s player.Snapshot) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.updates = append(q.updates, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Snapshot{}, false) if the queue is empty.
func (q *updateQueue) TryDequeue() (player.Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.updates) == 0 {
		return player.Snapshot{}, false
	}

	s := q.updates[0]
	if len(q.updates) == 1 {
		q.updates = q.updates[:0]
	} else {
		q.updates = q.updates[1:]
	}
	return s, true
}

// Wait returns a channel that signals when updates may be available.
// Use with select alongside ctx.Done().
func (q *updateQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *updateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.updates)
}

// Close signals that no more updates will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *updateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
