package logbuffer

import (
	"context"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// DecoratingStore wraps a store.Store so decision/error log writes go
// through a Buffer instead of blocking the caller on the underlying
// store. Every other method is delegated unchanged.
type DecoratingStore struct {
	store.Store
	buffer *Buffer
}

func NewDecoratingStore(s store.Store, b *Buffer) *DecoratingStore {
	return &DecoratingStore{Store: s, buffer: b}
}

func (d *DecoratingStore) AppendDecisionLog(ctx context.Context, record store.AssignmentDecisionLog) error {
	d.buffer.EnqueueDecision(record)
	return nil
}

func (d *DecoratingStore) AppendErrorLog(ctx context.Context, record store.ErrorLogRecord) error {
	d.buffer.EnqueueError(record)
	return nil
}
