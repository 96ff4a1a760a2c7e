package transport

import (
	"context"
	"io"
	"sync"
)

// Inbox is a thread-safe unbounded FIFO of inbound frames.
//
// The socket reader enqueues; the consumer calls Receive. The inbox is
// unbounded so a consumer that is busy applying a large history replay
// never stalls the reader.
//
// The queue uses a channel for signaling to enable context-aware waiting
// (prevents goroutine hangs on context cancellation).
type Inbox struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	err    error
	signal chan struct{} // Signals frame availability (buffered, size 1)
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		frames: make([]Frame, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a frame to the back of the inbox.
// Returns false if the inbox is closed.
func (q *Inbox) Enqueue(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.frames = append(q.frames, f)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front frame without blocking.
func (q *Inbox) TryDequeue() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return Frame{}, false
	}

	f := q.frames[0]
	// Nil out the slot so the payload can be collected.
	q.frames[0] = Frame{}
	if len(q.frames) == 1 {
		q.frames = q.frames[:0]
	} else {
		q.frames = q.frames[1:]
	}
	return f, true
}

// Receive blocks until a frame is available, the inbox is closed and
// drained, or ctx is done. A drained inbox returns the close error, or
// io.EOF if it was closed cleanly.
func (q *Inbox) Receive(ctx context.Context) (Frame, error) {
	for {
		if f, ok := q.TryDequeue(); ok {
			return f, nil
		}

		q.mu.Lock()
		if q.closed && len(q.frames) == 0 {
			err := q.err
			q.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return Frame{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of buffered frames.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close stops accepting frames. Buffered frames remain receivable; once
// drained, Receive returns err (or io.EOF when err is nil).
func (q *Inbox) Close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	close(q.signal) // Wakes all waiters
}
