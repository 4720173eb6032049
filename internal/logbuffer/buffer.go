// Package logbuffer decouples decision/error log writes from the request
// path (§4.9): callers enqueue into a bounded in-memory ring, a background
// flusher drains it against the store with exponential backoff, and once
// the ring is full the oldest unflushed record is dropped with a counter
// bump rather than blocking the engine on a slow or unavailable store.
//
// Grounded on control_plane/resilience/degraded_mode.go's bounded
// pendingWrites slice (same drop-oldest-when-full rule), with the retry
// backoff borrowed from internal/pool's Backoff helper instead of the
// teacher's unbounded immediate-retry.
package logbuffer

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/observability"
	"github.com/meetbridge/interpreter-scheduler/internal/pool"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

const defaultCapacity = 1024

type entry struct {
	kind     string
	decision *store.AssignmentDecisionLog
	errLog   *store.ErrorLogRecord
}

// Buffer is a bounded queue of pending decision/error log writes, flushed
// asynchronously against the underlying store.
type Buffer struct {
	mu       sync.Mutex
	items    *list.List
	capacity int

	store store.Store

	flushInterval time.Duration
	maxAttempts   int
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

func New(s store.Store) *Buffer {
	return &Buffer{
		items:         list.New(),
		capacity:      defaultCapacity,
		store:         s,
		flushInterval: time.Second,
		maxAttempts:   5,
		baseBackoff:   100 * time.Millisecond,
		maxBackoff:    10 * time.Second,
	}
}

// EnqueueDecision appends a decision-log record to the buffer, dropping
// the oldest pending record if the buffer is full.
func (b *Buffer) EnqueueDecision(record store.AssignmentDecisionLog) {
	b.enqueue(entry{kind: "decision", decision: &record})
}

// EnqueueError appends an error-log record to the buffer, dropping the
// oldest pending record if the buffer is full.
func (b *Buffer) EnqueueError(record store.ErrorLogRecord) {
	b.enqueue(entry{kind: "error", errLog: &record})
}

func (b *Buffer) enqueue(e entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.items.Len() >= b.capacity {
		oldest := b.items.Front()
		if oldest != nil {
			dropped := oldest.Value.(entry)
			b.items.Remove(oldest)
			observability.LogBufferDropped.WithLabelValues(dropped.kind).Inc()
			log.Printf("[logbuffer] buffer full (%d), dropped oldest %s record", b.capacity, dropped.kind)
		}
	}
	b.items.PushBack(e)
}

// Start launches the background flush loop.
func (b *Buffer) Start(ctx context.Context) {
	go b.loop(ctx)
}

func (b *Buffer) loop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain(context.Background())
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

// drain flushes every currently-buffered entry, retrying each with
// exponential backoff up to maxAttempts before giving up on it.
func (b *Buffer) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		front := b.items.Front()
		if front == nil {
			b.mu.Unlock()
			return
		}
		e := front.Value.(entry)
		b.items.Remove(front)
		b.mu.Unlock()

		if err := b.flushWithRetry(ctx, e); err != nil {
			log.Printf("[logbuffer] giving up on %s record after retries: %v", e.kind, err)
		}
	}
}

func (b *Buffer) flushWithRetry(ctx context.Context, e entry) error {
	var lastErr error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		var err error
		switch e.kind {
		case "decision":
			err = b.store.AppendDecisionLog(ctx, *e.decision)
		case "error":
			err = b.store.AppendErrorLog(ctx, *e.errLog)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		wait := pool.Backoff(attempt, b.baseBackoff, b.maxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// Len reports the number of records currently pending flush, useful for
// tests and the debug snapshot endpoint.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Len()
}
