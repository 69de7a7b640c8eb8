// Package txn is the provider's transaction bookkeeping: at most one active
// transaction per provider instance, its numeric id is what the WAL and
// recovery key on, and a UUID is carried alongside purely for log
// correlation.
package txn

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var idSeq uint64

// Transaction is in-memory state only; it is never persisted as an entity —
// the WAL's begin/commit/abort records are the durable representation.
type Transaction struct {
	ID        string
	TxID      uint64
	Active    bool
	StartTime time.Time
}

// New starts a fresh transaction with a process-local monotonic TxID and a
// UUID correlation id.
func New(now time.Time) *Transaction {
	return &Transaction{
		ID:        uuid.New().String(),
		TxID:      atomic.AddUint64(&idSeq, 1),
		Active:    true,
		StartTime: now,
	}
}

// Close marks the transaction inactive; callers hold no further reference
// to it afterward.
func (t *Transaction) Close() {
	t.Active = false
}
