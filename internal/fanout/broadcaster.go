// Package fanout delivers newly appended ledger records to live observers as
// server-sent events.
package fanout

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBuffer is the per-subscriber queue depth.
	DefaultBuffer = 64
	// DefaultHeartbeat is the idle keep-alive interval.
	DefaultHeartbeat = 15 * time.Second
)

// ErrDropped is returned by Serve when the subscriber was removed because it
// could not keep up.
var ErrDropped = errors.New("fanout: subscriber dropped")

// Subscriber is a registered observer.
type Subscriber struct {
	ID uuid.UUID
	ch chan Frame
}

// C returns the frame channel. It is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan Frame { return s.ch }

// Broadcaster is a registry of live observers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber
	buffer      int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Broadcaster. A non-positive buffer uses DefaultBuffer.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subscribers: make(map[uuid.UUID]*Subscriber),
		buffer:      buffer,
	}
}

// Subscribe registers a new observer.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.New(), ch: make(chan Frame, b.buffer)}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes an observer and closes its channel. It is safe to call
// more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Broadcaster) removeLocked(sub *Subscriber) {
	if _, ok := b.subscribers[sub.ID]; !ok {
		return
	}
	delete(b.subscribers, sub.ID)
	close(sub.ch)
}

// Publish delivers f to every subscriber without blocking. A subscriber
// whose buffer is full is removed. It returns the number of deliveries.
func (b *Broadcaster) Publish(f Frame) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)
	delivered := 0
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- f:
			delivered++
		default:
			b.dropped.Add(1)
			b.removeLocked(sub)
		}
	}
	return delivered
}

// Count returns the number of connected observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Published returns the number of Publish calls.
func (b *Broadcaster) Published() uint64 { return b.published.Load() }

// Dropped returns the number of observers removed for falling behind.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Serve streams frames for sub to w until ctx is done, a write fails or the
// subscriber is dropped. An idle heartbeat comment is written every
// heartbeat interval. The subscriber is always removed on return.
func (b *Broadcaster) Serve(ctx context.Context, w io.Writer, flusher http.Flusher, sub *Subscriber, heartbeat time.Duration) error {
	defer b.Unsubscribe(sub)

	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case f, ok := <-sub.ch:
			if !ok {
				return ErrDropped
			}
			if _, err := f.WriteTo(w); err != nil {
				return err
			}
			flush()
			// Heartbeats only fill silence.
			ticker.Reset(heartbeat)

		case <-ticker.C:
			if _, err := w.Write(heartbeatFrame); err != nil {
				return err
			}
			flush()
		}
	}
}
