package contract

import (
	"context"

	"htlcflow/notify"
)

// Mutation runs inside a store's unit of work while the record is held
// exclusively. Changes it makes to rec, and the event it returns, are persisted
// only when it returns nil. The ctx it receives may carry a transaction that
// collaborators such as the ledger join.
type Mutation func(ctx context.Context, rec *Record) (notify.Event, error)

// Store persists contract records.
type Store interface {
	// Create inserts rec and runs fn in the same unit of work. It fails with
	// ErrAlreadyExists when rec.ID is taken. rec is stored as given.
	Create(ctx context.Context, rec Record, fn Mutation) error
	// Update runs fn against the current record under an exclusive per-record
	// lock and persists the result. It fails with ErrNotFound for unknown ids.
	Update(ctx context.Context, id string, fn Mutation) (Record, error)
	// Get returns the committed record.
	Get(ctx context.Context, id string) (Record, error)
	// List returns committed records, newest first.
	List(ctx context.Context, filter ListFilter) ([]Record, error)
}
