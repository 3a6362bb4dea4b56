package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollTimeout is the Pop timeout used by the segmentation worker so it
// can observe termination promptly.
const DefaultPollTimeout = 100 * time.Millisecond

var (
	// ErrQueueOverflow is returned by [FrameQueue.Push] when a bounded queue
	// was full and a frame was dropped according to the overflow policy.
	ErrQueueOverflow = errors.New("audio: frame queue overflow")

	// ErrQueueClosed is returned by [FrameQueue.Push] after Close.
	ErrQueueClosed = errors.New("audio: frame queue closed")
)

// OverflowPolicy selects which frame a full bounded queue drops.
type OverflowPolicy string

const (
	// DropOldest evicts the frame at the head of the queue and enqueues the
	// new one. Capture stays current at the cost of older audio.
	DropOldest OverflowPolicy = "drop_oldest"

	// DropNewest rejects the incoming frame and leaves the queue untouched.
	DropNewest OverflowPolicy = "drop_newest"
)

// IsValid reports whether p is a recognised policy.
func (p OverflowPolicy) IsValid() bool {
	return p == DropOldest || p == DropNewest
}

// QueueOption configures a [FrameQueue].
type QueueOption func(*FrameQueue)

// WithCapacity bounds the queue to n frames. n <= 0 keeps the queue
// unbounded, which is the default.
func WithCapacity(n int) QueueOption {
	return func(q *FrameQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithOverflowPolicy sets the policy applied when a bounded queue is full.
// The default is [DropOldest].
func WithOverflowPolicy(p OverflowPolicy) QueueOption {
	return func(q *FrameQueue) {
		if p.IsValid() {
			q.policy = p
		}
	}
}

// FrameQueue is a FIFO hand-off between the realtime capture callback and the
// segmentation worker. Push never blocks; Pop blocks up to a timeout.
//
// Frames leave the queue in exactly the order they were pushed. The queue is
// designed for one consumer; any number of producers may push concurrently.
type FrameQueue struct {
	capacity int
	policy   OverflowPolicy

	mu     sync.Mutex
	ring   []Frame
	head   int
	size   int
	closed bool

	notify   chan struct{}
	closedCh chan struct{}
	dropped  atomic.Uint64
}

// NewFrameQueue returns an empty queue. Without options it is unbounded.
func NewFrameQueue(opts ...QueueOption) *FrameQueue {
	q := &FrameQueue{
		policy:   DropOldest,
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	initial := 64
	if q.capacity > 0 {
		initial = q.capacity
	}
	q.ring = make([]Frame, initial)
	return q
}

// Push appends f without blocking. On a full bounded queue it applies the
// overflow policy and returns [ErrQueueOverflow]; with [DropOldest] the new
// frame is still enqueued. After Close it returns [ErrQueueClosed].
func (q *FrameQueue) Push(f Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	var err error
	if q.capacity > 0 && q.size >= q.capacity {
		q.dropped.Add(1)
		if q.policy == DropNewest {
			q.mu.Unlock()
			return fmt.Errorf("%w (policy %s)", ErrQueueOverflow, q.policy)
		}
		q.ring[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.ring)
		q.size--
		err = fmt.Errorf("%w (policy %s)", ErrQueueOverflow, q.policy)
	}

	if q.size == len(q.ring) {
		q.grow()
	}
	q.ring[(q.head+q.size)%len(q.ring)] = f
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return err
}

// grow doubles the ring. Must be called with q.mu held.
func (q *FrameQueue) grow() {
	next := make([]Frame, len(q.ring)*2)
	for i := range q.size {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
}

// Pop removes and returns the oldest frame. It waits at most timeout for one
// to arrive and returns false on timeout, when ctx is done, or when the queue
// is closed and empty.
func (q *FrameQueue) Pop(ctx context.Context, timeout time.Duration) (Frame, bool) {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if q.size > 0 {
			f := q.ring[q.head]
			q.ring[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.ring)
			q.size--
			q.mu.Unlock()
			return f, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Frame{}, false
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.notify:
		case <-q.closedCh:
		case <-timer.C:
			return Frame{}, false
		case <-ctx.Done():
			return Frame{}, false
		}
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the number of frames dropped by the overflow policy.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Closed reports whether Close was called.
func (q *FrameQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further pushes and wakes a waiting Pop. Frames already
// queued can still be popped. Close is idempotent.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closedCh)
}
