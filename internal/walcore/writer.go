package walcore

import (
	"fmt"
	"sync/atomic"
	"time"
)

// opIDSeq hands out process-local, monotonically increasing OperationIDs
// used to group the continuation fragments of one logical block write.
// It is not persisted: recovery only needs OperationID to be unique among
// records currently live in the ring, and LSN order already provides a
// tiebreaker, so restarting the counter at 1 after a reopen is safe.
var opIDSeq uint64

func nextOperationID() uint64 {
	return atomic.AddUint64(&opIDSeq, 1)
}

// LogWrite logs a block mutation (insert, update, or delete) under an active
// transaction. Payloads larger than MaxPayload are split across multiple
// physical records sharing one OperationID, each carrying its SeqIndex and
// only the last one marked Final, so a block write larger than one
// record's payload capacity still reassembles deterministically during
// recovery.
func (w *WAL) LogWrite(txnID uint64, op Op, blockName string, pageID uint64, payload []byte, now time.Time) ([]uint64, error) {
	if op != OpInsert && op != OpUpdate && op != OpDelete && op != OpPageAllocate && op != OpPageFree {
		return nil, fmt.Errorf("walcore: LogWrite called with non-mutation op %s", op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.verifyActiveLocked(txnID); err != nil {
		return nil, err
	}

	nameBytes, nameLen := inlineName(blockName)
	opID := nextOperationID()

	var fragments [][]byte
	if len(payload) == 0 {
		fragments = [][]byte{nil}
	} else {
		for off := 0; off < len(payload); off += MaxPayload {
			end := off + MaxPayload
			if end > len(payload) {
				end = len(payload)
			}
			fragments = append(fragments, payload[off:end])
		}
	}

	lsns := make([]uint64, 0, len(fragments))
	for i, frag := range fragments {
		lsn, err := w.appendLocked(RecordHeader{
			TxnID:        txnID,
			Timestamp:    now.Unix(),
			Op:           op,
			BlockNameLen: nameLen,
			BlockName:    nameBytes,
			PageID:       pageID,
			OperationID:  opID,
			SeqIndex:     uint16(i),
			Final:        i == len(fragments)-1,
		}, frag)
		if err != nil {
			return lsns, err
		}
		lsns = append(lsns, lsn)
	}
	return lsns, nil
}

func inlineName(name string) ([MaxInlineName]byte, uint8) {
	var out [MaxInlineName]byte
	n := copy(out[:], name)
	return out, uint8(n)
}
