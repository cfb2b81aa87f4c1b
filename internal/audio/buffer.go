package audio

import (
	"context"
	"sync"
)

// FrameQueue is a bounded FIFO of frames shared by one producer and one
// consumer. When full, Push evicts the oldest frame so latency stays bounded.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues f. It reports whether an older frame was evicted to make room.
// Pushing to a closed queue is a no-op.
func (q *FrameQueue) Push(f Frame) (evicted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.frames) >= q.capacity {
		q.frames[0] = Frame{}
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop blocks until a frame is available. It returns false once the queue is
// closed and drained, or when ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames[0] = Frame{}
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Frame{}, false
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return Frame{}, false
		}
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames were evicted since creation.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting frames. Queued frames can still be popped.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
