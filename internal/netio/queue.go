package netio

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// sendQueue decouples the producer (scheduler, pacing frames according to
// their SendTime) from the consumer (the goroutine writing to the raw
// socket), so a slow NIC never stalls timestamp-accurate pacing upstream.
//
// Bounded by capacity slots, a fixed-size semaphore-guarded ring
// buffer.
type sendQueue struct {
	slots *semaphore.Weighted // free slots available to push into
	items *semaphore.Weighted // queued items available to pop

	mu   sync.Mutex
	buf  [][]byte
	in   int
	out  int
	size int
}

const defaultQueueCapacity = 256

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	q := &sendQueue{
		slots: semaphore.NewWeighted(int64(capacity)),
		items: semaphore.NewWeighted(int64(capacity)),
		buf:   make([][]byte, capacity),
		size:  capacity,
	}
	// items starts fully "acquired": nothing has been pushed yet.
	_ = q.items.Acquire(context.Background(), int64(capacity))
	return q
}

func (q *sendQueue) push(ctx context.Context, frame []byte) error {
	if err := q.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	q.mu.Lock()
	q.buf[q.in] = frame
	q.in = (q.in + 1) % q.size
	q.mu.Unlock()
	q.items.Release(1)
	return nil
}

func (q *sendQueue) pop(ctx context.Context) ([]byte, error) {
	if err := q.items.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.mu.Lock()
	frame := q.buf[q.out]
	q.buf[q.out] = nil
	q.out = (q.out + 1) % q.size
	q.mu.Unlock()
	q.slots.Release(1)
	return frame, nil
}

// drain blocks until every pushed frame has been popped, used by
// FlushSendQueue to guarantee all queued frames reached the wire before
// returning statistics to the caller.
func (q *sendQueue) drain(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		// in == out also holds when the ring is full; pop nils each slot
		// it takes, so an occupied slot at out means frames remain.
		empty := q.in == q.out && q.buf[q.out] == nil
		q.mu.Unlock()
		if empty {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
