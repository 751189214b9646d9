// Package buffer provides the in-memory ingest buffer that sits between
// capture and aggregation.
package buffer

import (
	"errors"
	"sync"

	"faultline/internal/domain"
)

// ErrClosed is returned by Add after the buffer has been closed.
var ErrClosed = errors.New("buffer is closed")

// Buffer is a concurrency-safe append-only event list.
// The lock is held only for the append or the slice swap, never across I/O.
type Buffer struct {
	mu     sync.Mutex
	events []*domain.ErrorEvent
	closed bool
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Add appends an event. It never blocks beyond the mutex acquisition.
func (b *Buffer) Add(event *domain.ErrorEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.events = append(b.events, event)
	return nil
}

// Drain swaps the live list for an empty one and returns the old list.
// Returns nil when the buffer is empty.
func (b *Buffer) Drain() []*domain.ErrorEvent {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	return batch
}

// Requeue puts a failed batch back ahead of anything captured since it was
// drained, so the next drain sees events in their original order.
// Requeue works on a closed buffer so the final flush can still retry.
func (b *Buffer) Requeue(batch []*domain.ErrorEvent) {
	if len(batch) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]*domain.ErrorEvent, 0, len(batch)+len(b.events))
	merged = append(merged, batch...)
	merged = append(merged, b.events...)
	b.events = merged
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Close rejects further Adds. Buffered events remain drainable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
