package walcore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// MutationOp is one fully-reassembled block mutation ready to be redone
// against the registry/FSM: all of its continuation fragments have been
// concatenated in SeqIndex order.
type MutationOp struct {
	LSN       uint64
	TxnID     uint64
	Op        Op
	BlockName string
	PageID    uint64
	Payload   []byte
}

// RecoveryResult is the outcome of replaying a WAL region: redo-only —
// only mutations belonging to committed transactions after the last
// checkpoint are returned for replay.
type RecoveryResult struct {
	RecordsScanned  int
	CommittedTxns   int
	SkippedTxns     int
	Mutations       []MutationOp
	NextLSN         uint64
	LastCheckpoint  uint64
}

// Recover scans handle's WAL region and reconstructs the set of mutations
// that must be redone. Uncommitted and aborted transactions are discarded;
// this is a pure redo log, there is no undo pass. A torn record (a crash
// mid-write, surfaced as a checksum mismatch or invalid op) ends the scan
// at that LSN without failing: everything read before it is still
// returned for replay, matching read_entries_since_checkpoint's
// stop-at-first-mismatch rule. Only a genuine I/O failure is fatal.
func Recover(handle *iohandle.Handle) (*RecoveryResult, error) {
	reader, err := NewReader(handle)
	if err != nil {
		return nil, fmt.Errorf("walcore: recovery failed to open reader: %w", err)
	}

	result := &RecoveryResult{NextLSN: 1}

	type txnState struct {
		committed bool
		aborted   bool
	}
	txns := make(map[uint64]*txnState)

	type fragKey struct {
		txnID uint64
		opID  uint64
	}
	frags := make(map[fragKey][]Record)

	for {
		rec, ok, err := reader.Next()
		if err != nil {
			if errors.Is(err, scdberr.ErrTornRecord) {
				// A torn trailing record is expected after a crash: stop
				// replay here and redo everything found before it.
				break
			}
			return nil, fmt.Errorf("walcore: recovery scan failed: %w", err)
		}
		if !ok {
			break
		}
		result.RecordsScanned++
		if rec.Header.LSN >= result.NextLSN {
			result.NextLSN = rec.Header.LSN + 1
		}

		switch rec.Header.Op {
		case OpBegin:
			txns[rec.Header.TxnID] = &txnState{}
		case OpCommit:
			if st, ok := txns[rec.Header.TxnID]; ok {
				st.committed = true
			} else {
				txns[rec.Header.TxnID] = &txnState{committed: true}
			}
		case OpAbort:
			if st, ok := txns[rec.Header.TxnID]; ok {
				st.aborted = true
			} else {
				txns[rec.Header.TxnID] = &txnState{aborted: true}
			}
		case OpCheckpoint:
			result.LastCheckpoint = rec.Header.LSN
			// Everything logged before a checkpoint is already durable in
			// its region, so only mutations after it are replayed.
			frags = make(map[fragKey][]Record)
		case OpInsert, OpUpdate, OpDelete, OpPageAllocate, OpPageFree:
			key := fragKey{rec.Header.TxnID, rec.Header.OperationID}
			frags[key] = append(frags[key], rec)
		default:
			return result, fmt.Errorf("walcore: recovery encountered unknown op %d at LSN %d", rec.Header.Op, rec.Header.LSN)
		}
	}

	for key, fragments := range frags {
		st, ok := txns[key.txnID]
		if !ok || !st.committed || st.aborted {
			result.SkippedTxns++
			continue
		}

		sort.Slice(fragments, func(i, j int) bool { return fragments[i].Header.SeqIndex < fragments[j].Header.SeqIndex })

		last := fragments[len(fragments)-1]
		if !last.Header.Final {
			// Torn write: the final fragment never made it to disk before a
			// crash. Redo-only recovery discards incomplete operations.
			result.SkippedTxns++
			continue
		}

		var payload []byte
		for _, f := range fragments {
			payload = append(payload, f.Payload...)
		}

		first := fragments[0]
		result.Mutations = append(result.Mutations, MutationOp{
			LSN:       last.Header.LSN,
			TxnID:     key.txnID,
			Op:        first.Header.Op,
			BlockName: first.Header.BlockNameOf(),
			PageID:    first.Header.PageID,
			Payload:   payload,
		})
	}

	sort.Slice(result.Mutations, func(i, j int) bool { return result.Mutations[i].LSN < result.Mutations[j].LSN })

	for _, st := range txns {
		if st.committed {
			result.CommittedTxns++
		}
	}

	return result, nil
}
