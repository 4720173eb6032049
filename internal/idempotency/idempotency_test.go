package idempotency

import (
	"context"
	"testing"
)

func TestTryMarkScheduledFirstCallSucceedsWithoutBackend(t *testing.T) {
	s := NewStore(nil)
	if !s.TryMarkScheduled(context.Background(), 101) {
		t.Fatal("expected first mark to succeed")
	}
}

func TestTryMarkScheduledSecondCallIsDuplicate(t *testing.T) {
	s := NewStore(nil)
	s.TryMarkScheduled(context.Background(), 202)
	if s.TryMarkScheduled(context.Background(), 202) {
		t.Fatal("expected second mark for same booking to report duplicate")
	}
}

func TestTryMarkScheduledDistinctBookingsAreIndependent(t *testing.T) {
	s := NewStore(nil)
	if !s.TryMarkScheduled(context.Background(), 1) || !s.TryMarkScheduled(context.Background(), 2) {
		t.Fatal("expected distinct booking ids to each succeed on first mark")
	}
}
