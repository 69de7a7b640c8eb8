package provider

import (
	"fmt"
	"time"

	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/scdberr"
	"github.com/scdb-go/scdb/internal/txn"
)

// BeginTransaction starts the one transaction a provider instance can have
// active at a time, snapshotting the registry and free-space map so a
// rollback can restore them wholesale rather than undo writes individually
// (unsafe once a transaction has freed and re-allocated the same pages
// across more than one write).
func (p *Provider) BeginTransaction() (*txn.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeTxn != nil && p.activeTxn.Active {
		return nil, fmt.Errorf("provider: %w", scdberr.ErrTransactionConflict)
	}

	now := time.Now()
	t := txn.New(now)
	if _, err := p.wal.BeginTransaction(t.TxID, now); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	p.activeTxn = t
	p.txnRegSnapshot = p.reg.TakeSnapshot()
	p.txnFSMSnapshot = p.space.TakeSnapshot()

	p.logger.Info("transaction begin", "txn_id", t.TxID, "correlation_id", t.ID)
	return t, nil
}

// CommitTransaction logs and fsyncs the commit record, making every write
// made under the transaction durable.
func (p *Provider) CommitTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeTxn == nil || !p.activeTxn.Active {
		return fmt.Errorf("provider: %w", scdberr.ErrTransactionState)
	}

	now := time.Now()
	if _, err := p.wal.Commit(p.activeTxn.TxID, now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	p.logger.Info("transaction commit", "txn_id", p.activeTxn.TxID)
	p.clearTxnLocked()
	return nil
}

// RollbackTransaction logs the abort record and restores the registry and
// free-space map to exactly their state at BeginTransaction, so any
// subsequent read (on this provider or after a reopen following a crash
// before a later checkpoint) observes no trace of the transaction's writes.
func (p *Provider) RollbackTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeTxn == nil || !p.activeTxn.Active {
		return fmt.Errorf("provider: %w", scdberr.ErrTransactionState)
	}

	now := time.Now()
	txID := p.activeTxn.TxID
	if _, err := p.wal.Abort(txID, now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	p.reg.RestoreSnapshot(p.txnRegSnapshot)
	p.space.RestoreSnapshot(p.txnFSMSnapshot)
	if err := p.reg.ForceFlush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := p.space.Flush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	p.logger.Info("transaction rollback", "txn_id", txID)
	p.clearTxnLocked()
	return nil
}

func (p *Provider) clearTxnLocked() {
	p.activeTxn.Close()
	p.activeTxn = nil
	p.txnRegSnapshot = nil
	p.txnFSMSnapshot = fsm.Snapshot{}
}
