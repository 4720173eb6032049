package logbuffer

import (
	"context"
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func TestEnqueueDecisionFlushesToStore(t *testing.T) {
	s := store.NewMemoryStore()
	b := New(s)
	b.flushInterval = 5 * time.Millisecond

	b.EnqueueDecision(store.AssignmentDecisionLog{BookingID: 42})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Start(ctx)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if b.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected buffered decision record to flush to the store")
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	s := store.NewMemoryStore()
	b := New(s)
	b.capacity = 2

	b.EnqueueDecision(store.AssignmentDecisionLog{BookingID: 1})
	b.EnqueueDecision(store.AssignmentDecisionLog{BookingID: 2})
	b.EnqueueDecision(store.AssignmentDecisionLog{BookingID: 3})

	if b.Len() != 2 {
		t.Fatalf("expected buffer to stay bounded at capacity, got len=%d", b.Len())
	}

	front := b.items.Front().Value.(entry)
	if front.decision.BookingID != 2 {
		t.Fatalf("expected oldest record (id=1) to be dropped, front is %d", front.decision.BookingID)
	}
}

func TestDecoratingStoreEnqueuesInsteadOfBlocking(t *testing.T) {
	s := store.NewMemoryStore()
	b := New(s)
	ds := NewDecoratingStore(s, b)

	if err := ds.AppendDecisionLog(context.Background(), store.AssignmentDecisionLog{BookingID: 7}); err != nil {
		t.Fatalf("expected non-blocking enqueue to succeed, got %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("expected record to land in the buffer, len=%d", b.Len())
	}
}
