package walcore

import (
	"os"
	"testing"
	"time"

	"github.com/scdb-go/scdb/internal/iohandle"
)

func newTestWAL(t *testing.T, maxEntries uint64) (*WAL, *iohandle.Handle, *os.File) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "wal-*.scdb")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	size := int64(RegionHeaderSize) + int64(maxEntries)*EntrySize
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}
	h := iohandle.New(f, 0, size)
	w, err := Open(h, true, maxEntries)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return w, h, f
}

// TestRecoverStopsAtTornTrailingRecordButKeepsEarlierCommits simulates a
// crash that leaves the last physical WAL record torn (its checksum no
// longer matches, as a partially-flushed write would leave it). Recover
// must not fail outright: every committed transaction before the torn
// record still replays.
func TestRecoverStopsAtTornTrailingRecordButKeepsEarlierCommits(t *testing.T) {
	w, h, f := newTestWAL(t, 16)
	defer f.Close()
	now := time.Unix(100, 0)

	if _, err := w.BeginTransaction(1, now); err != nil {
		t.Fatalf("BeginTransaction(1) failed: %v", err)
	}
	if _, err := w.LogWrite(1, OpInsert, "alpha", 0, []byte("alpha payload"), now); err != nil {
		t.Fatalf("LogWrite(1) failed: %v", err)
	}
	if _, err := w.Commit(1, now); err != nil {
		t.Fatalf("Commit(1) failed: %v", err)
	}

	if _, err := w.BeginTransaction(2, now); err != nil {
		t.Fatalf("BeginTransaction(2) failed: %v", err)
	}
	if _, err := w.LogWrite(2, OpInsert, "beta", 0, []byte("beta payload"), now); err != nil {
		t.Fatalf("LogWrite(2) failed: %v", err)
	}
	if _, err := w.Commit(2, now); err != nil {
		t.Fatalf("Commit(2) failed: %v", err)
	}

	// Tear the last physical record (txn2's commit) by flipping a byte of
	// its stored checksum, as an interrupted write would leave it.
	lastIdx := w.hdr.Tail - 1
	slot := int64(RegionHeaderSize) + int64(lastIdx%w.hdr.MaxEntries)*EntrySize
	b := make([]byte, 1)
	if _, err := h.ReadAt(b, slot+int64(checksumOffset)); err != nil {
		t.Fatalf("failed to read checksum byte: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := h.WriteAt(b, slot+int64(checksumOffset)); err != nil {
		t.Fatalf("failed to corrupt checksum byte: %v", err)
	}

	result, err := Recover(h)
	if err != nil {
		t.Fatalf("expected Recover to tolerate a torn trailing record, got error: %v", err)
	}
	if len(result.Mutations) != 1 || result.Mutations[0].BlockName != "alpha" {
		t.Fatalf("expected only txn1's committed mutation to be redone, got %+v", result.Mutations)
	}
	if result.CommittedTxns != 1 {
		t.Fatalf("expected exactly one committed transaction to be recognized, got %d", result.CommittedTxns)
	}
}

// TestRecoverFailsOnGenuineIOError ensures a real I/O failure (as opposed
// to a torn record) is still fatal.
func TestRecoverFailsOnGenuineIOError(t *testing.T) {
	w, h, f := newTestWAL(t, 16)
	now := time.Unix(100, 0)

	if _, err := w.BeginTransaction(1, now); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := w.Commit(1, now); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("failed to close underlying file: %v", err)
	}

	if _, err := Recover(h); err == nil {
		t.Fatalf("expected Recover to fail when the underlying file is unreadable")
	}
}
