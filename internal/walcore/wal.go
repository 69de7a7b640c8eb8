package walcore

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// recordChecksum hashes the header fields preceding the checksum plus the
// payload.
func recordChecksum(headerPrefix, payload []byte) [32]byte {
	h := sha256.New()
	h.Write(headerPrefix)
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TxnStateType tracks a transaction's lifecycle: None -> Begun -> (many
// writes) -> Committed | Aborted.
type TxnStateType uint8

const (
	TxnActive TxnStateType = iota + 1
	TxnCommitted
	TxnAborted
)

func (s TxnStateType) String() string {
	switch s {
	case TxnActive:
		return "Active"
	case TxnCommitted:
		return "Committed"
	case TxnAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// WAL is the write-ahead log: a fixed-capacity circular array of records
// backed by one iohandle.Handle scoped to the WAL region.
type WAL struct {
	mu sync.Mutex

	handle *iohandle.Handle

	hdr RegionHeader

	activeTxns map[uint64]TxnStateType
}

// Open opens (or, if fresh is true, initializes) a WAL over handle.
// maxEntries is only used when fresh; otherwise the region header on disk
// is authoritative.
func Open(handle *iohandle.Handle, fresh bool, maxEntries uint64) (*WAL, error) {
	w := &WAL{
		handle:     handle,
		activeTxns: make(map[uint64]TxnStateType),
	}

	if fresh {
		w.hdr = RegionHeader{
			Magic:      Magic,
			Version:    Version,
			EntrySize:  EntrySize,
			MaxEntries: maxEntries,
			CurrentLSN: 0,
			Head:       0,
			Tail:       0,
		}
		if err := w.writeRegionHeaderLocked(); err != nil {
			return nil, fmt.Errorf("walcore: failed to init region header: %w", err)
		}
		return w, nil
	}

	buf := make([]byte, RegionHeaderSize)
	if _, err := handle.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("walcore: failed to read region header: %w", err)
	}
	hdr := DecodeRegionHeader(buf)
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("walcore: bad WAL magic %v: %w", hdr.Magic, scdberr.ErrHeaderInvalid)
	}
	if hdr.Version > Version {
		return nil, fmt.Errorf("walcore: wal version %d unsupported: %w", hdr.Version, scdberr.ErrVersionUnsupported)
	}
	w.hdr = hdr
	return w, nil
}

func (w *WAL) writeRegionHeaderLocked() error {
	buf := EncodeRegionHeader(w.hdr)
	_, err := w.handle.WriteAt(buf, 0)
	return err
}

// slot returns the relative byte offset of record index i's slot.
func (w *WAL) slot(i uint64) int64 {
	return int64(RegionHeaderSize) + int64(i%w.hdr.MaxEntries)*EntrySize
}

// CurrentLSN returns the LSN most recently assigned (0 before any record).
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hdr.CurrentLSN
}

// LastCheckpointLSN returns the LSN of the last checkpoint record written.
func (w *WAL) LastCheckpointLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hdr.LastCheckpointLSN
}

// Count returns the number of live records currently in the ring.
func (w *WAL) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hdr.Tail - w.hdr.Head
}

func (w *WAL) verifyActiveLocked(txnID uint64) error {
	st, ok := w.activeTxns[txnID]
	if !ok || st != TxnActive {
		return fmt.Errorf("walcore: transaction %d not active: %w", txnID, scdberr.ErrTransactionState)
	}
	return nil
}

// appendLocked writes one physical record slot, advancing tail and, if the
// ring is full, head (oldest record is silently discarded). Caller holds
// w.mu.
func (w *WAL) appendLocked(h RecordHeader, payload []byte) (uint64, error) {
	if len(payload) > MaxPayload {
		return 0, fmt.Errorf("walcore: payload %d exceeds max %d", len(payload), MaxPayload)
	}

	w.hdr.CurrentLSN++
	h.LSN = w.hdr.CurrentLSN
	h.DataLength = uint32(len(payload))

	headerBuf := encodeRecordHeader(h)
	sum := recordChecksum(headerBuf[:checksumOffset], payload)
	copy(headerBuf[checksumOffset:checksumOffset+32], sum[:])

	slot := w.slot(w.hdr.Tail)
	entry := make([]byte, EntrySize)
	copy(entry, headerBuf)
	copy(entry[RecordHeaderSize:], payload)

	if _, err := w.handle.WriteAt(entry, slot); err != nil {
		return 0, fmt.Errorf("walcore: failed to write record: %w", err)
	}

	if w.hdr.Tail-w.hdr.Head >= w.hdr.MaxEntries {
		w.hdr.Head++
	}
	w.hdr.Tail++

	if err := w.writeRegionHeaderLocked(); err != nil {
		return 0, fmt.Errorf("walcore: failed to persist region header: %w", err)
	}

	return h.LSN, nil
}

// BeginTransaction logs a begin record and marks txnID active.
func (w *WAL) BeginTransaction(txnID uint64, now time.Time) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st, ok := w.activeTxns[txnID]; ok && st == TxnActive {
		return 0, fmt.Errorf("walcore: transaction %d already active: %w", txnID, scdberr.ErrTransactionConflict)
	}

	lsn, err := w.appendLocked(RecordHeader{
		TxnID:     txnID,
		Timestamp: now.Unix(),
		Op:        OpBegin,
		Final:     true,
	}, nil)
	if err != nil {
		return 0, err
	}
	w.activeTxns[txnID] = TxnActive
	return lsn, nil
}

// Commit logs a commit record and fsyncs, making the transaction durable.
func (w *WAL) Commit(txnID uint64, now time.Time) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.verifyActiveLocked(txnID); err != nil {
		return 0, err
	}
	lsn, err := w.appendLocked(RecordHeader{
		TxnID:     txnID,
		Timestamp: now.Unix(),
		Op:        OpCommit,
		Final:     true,
	}, nil)
	if err != nil {
		return 0, err
	}
	if err := w.handle.Sync(); err != nil {
		return 0, fmt.Errorf("walcore: fsync after commit failed: %w", err)
	}
	w.activeTxns[txnID] = TxnCommitted
	delete(w.activeTxns, txnID)
	return lsn, nil
}

// Abort logs an abort record; pending in-memory records for this
// transaction are not un-written (they are simply never replayed during
// recovery), only the active-flag bookkeeping is cleared.
func (w *WAL) Abort(txnID uint64, now time.Time) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.verifyActiveLocked(txnID); err != nil {
		return 0, err
	}
	lsn, err := w.appendLocked(RecordHeader{
		TxnID:     txnID,
		Timestamp: now.Unix(),
		Op:        OpAbort,
		Final:     true,
	}, nil)
	if err != nil {
		return 0, err
	}
	w.activeTxns[txnID] = TxnAborted
	delete(w.activeTxns, txnID)
	return lsn, nil
}

// Checkpoint records the current LSN as the last checkpoint, logs a
// checkpoint record, and flushes.
func (w *WAL) Checkpoint(now time.Time) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn, err := w.appendLocked(RecordHeader{
		Timestamp: now.Unix(),
		Op:        OpCheckpoint,
		Final:     true,
	}, nil)
	if err != nil {
		return 0, err
	}
	w.hdr.LastCheckpointLSN = lsn
	if err := w.writeRegionHeaderLocked(); err != nil {
		return 0, fmt.Errorf("walcore: failed to persist checkpoint header: %w", err)
	}
	if err := w.handle.Sync(); err != nil {
		return 0, fmt.Errorf("walcore: fsync after checkpoint failed: %w", err)
	}
	return lsn, nil
}
