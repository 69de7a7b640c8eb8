package provider

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/scdberr"
	"github.com/scdb-go/scdb/internal/vacuum"
	"github.com/scdb-go/scdb/internal/walcore"
)

func newTestPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.scdb")
}

func TestCreateEmptyThenReopen(t *testing.T) {
	path := newTestPath(t)

	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(p.EnumerateBlocks()) != 0 {
		t.Fatalf("expected an empty registry on a fresh file")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer p2.Close()
	if len(p2.EnumerateBlocks()) != 0 {
		t.Fatalf("expected an empty registry after reopening an untouched file")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	payload := []byte("hello, block")
	if err := p.WriteBlock("greeting", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	if !p.BlockExists("greeting") {
		t.Fatalf("expected block to exist")
	}

	got, ok, err := p.ReadBlock("greeting")
	if err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected block to be found")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}

	meta, ok := p.GetMetadata("greeting")
	if !ok {
		t.Fatalf("expected metadata to be found")
	}
	if meta.Size != uint64(len(payload)) {
		t.Fatalf("unexpected metadata size: %d", meta.Size)
	}
	if meta.Checksum != format.Checksum256(payload) {
		t.Fatalf("metadata checksum does not match payload")
	}
}

func TestWriteReadRoundTripAfterReopen(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	payload := []byte("durable across reopen")
	if err := p.WriteBlock("persisted", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer p2.Close()

	got, ok, err := p2.ReadBlock("persisted")
	if err != nil {
		t.Fatalf("ReadBlock after reopen failed: %v", err)
	}
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected persisted block to survive reopen, got %q ok=%v", got, ok)
	}
}

func TestReadBlockMissingReturnsFalseNotError(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	data, ok, err := p.ReadBlock("nope")
	if err != nil {
		t.Fatalf("expected no error for a missing block, got %v", err)
	}
	if ok || data != nil {
		t.Fatalf("expected (nil, false) for a missing block, got (%v, %v)", data, ok)
	}
}

func TestWriteBlockGrowAndShrink(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	small := bytes.Repeat([]byte("a"), 16)
	if err := p.WriteBlock("resizable", small); err != nil {
		t.Fatalf("initial WriteBlock failed: %v", err)
	}
	before, _ := p.GetMetadata("resizable")

	large := bytes.Repeat([]byte("b"), DefaultPageSize*3)
	if err := p.WriteBlock("resizable", large); err != nil {
		t.Fatalf("grow WriteBlock failed: %v", err)
	}
	grown, _ := p.GetMetadata("resizable")
	if grown.Offset == before.Offset && grown.Size == before.Size {
		t.Fatalf("expected the block's allocation to change after growing past its original pages")
	}

	got, ok, err := p.ReadBlock("resizable")
	if err != nil || !ok || !bytes.Equal(got, large) {
		t.Fatalf("unexpected read after grow: ok=%v err=%v", ok, err)
	}

	if err := p.WriteBlock("resizable", small); err != nil {
		t.Fatalf("shrink WriteBlock failed: %v", err)
	}
	shrunk, _ := p.GetMetadata("resizable")
	if shrunk.Offset != grown.Offset {
		t.Fatalf("expected shrink to reuse the existing allocation's offset, got %d want %d", shrunk.Offset, grown.Offset)
	}

	got, ok, err = p.ReadBlock("resizable")
	if err != nil || !ok || !bytes.Equal(got, small) {
		t.Fatalf("unexpected read after shrink: ok=%v err=%v", ok, err)
	}
}

func TestDeleteBlockIsIdempotent(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if err := p.WriteBlock("temp", []byte("gone soon")); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := p.DeleteBlock("temp"); err != nil {
		t.Fatalf("DeleteBlock failed: %v", err)
	}
	if p.BlockExists("temp") {
		t.Fatalf("expected block to be gone")
	}
	if err := p.DeleteBlock("temp"); err != nil {
		t.Fatalf("deleting an already-missing block should be a no-op, got %v", err)
	}
	if err := p.DeleteBlock("never-existed"); err != nil {
		t.Fatalf("deleting a never-existing block should be a no-op, got %v", err)
	}
}

func TestTransactionCommitPersistsWrites(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if _, err := p.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if err := p.WriteBlock("committed", []byte("stays")); err != nil {
		t.Fatalf("WriteBlock inside transaction failed: %v", err)
	}
	if err := p.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	got, ok, err := p.ReadBlock("committed")
	if err != nil || !ok || !bytes.Equal(got, []byte("stays")) {
		t.Fatalf("expected committed write to be visible: ok=%v err=%v", ok, err)
	}
}

func TestTransactionRollbackLeavesNoTrace(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if err := p.WriteBlock("before-txn", []byte("baseline")); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	if _, err := p.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if err := p.WriteBlock("rolled-back", []byte("should vanish")); err != nil {
		t.Fatalf("WriteBlock inside transaction failed: %v", err)
	}
	if err := p.WriteBlock("before-txn", []byte("clobbered")); err != nil {
		t.Fatalf("WriteBlock overwrite inside transaction failed: %v", err)
	}
	if err := p.DeleteBlock("before-txn"); err != nil {
		t.Fatalf("DeleteBlock inside transaction failed: %v", err)
	}
	if err := p.RollbackTransaction(); err != nil {
		t.Fatalf("RollbackTransaction failed: %v", err)
	}

	if p.BlockExists("rolled-back") {
		t.Fatalf("expected rolled-back write to leave no trace")
	}
	got, ok, err := p.ReadBlock("before-txn")
	if err != nil || !ok || !bytes.Equal(got, []byte("baseline")) {
		t.Fatalf("expected pre-transaction state to be restored: ok=%v err=%v got=%q", ok, err, got)
	}
}

func TestBeginTransactionRejectsConcurrentTransaction(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if _, err := p.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := p.BeginTransaction(); !errors.Is(err, scdberr.ErrTransactionConflict) {
		t.Fatalf("expected ErrTransactionConflict, got %v", err)
	}
	if err := p.RollbackTransaction(); err != nil {
		t.Fatalf("RollbackTransaction failed: %v", err)
	}
}

func TestCommitWithoutActiveTransactionFails(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if err := p.CommitTransaction(); !errors.Is(err, scdberr.ErrTransactionState) {
		t.Fatalf("expected ErrTransactionState, got %v", err)
	}
}

func TestCrashBetweenDataAndRegistryFlushRecoversViaWAL(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := p.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	payload := []byte("recovered from the WAL")
	if err := p.WriteBlock("wal-recovered", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := p.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	// Simulate a crash: drop the in-memory registry entry without flushing
	// the "no crash happened" code path, then close without further writes.
	// Reopening must redo the committed mutation from the WAL regardless.
	p.reg.Delete("wal-recovered")
	if err := p.file.Close(); err != nil {
		t.Fatalf("failed to simulate crash close: %v", err)
	}

	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen after simulated crash failed: %v", err)
	}
	defer p2.Close()

	got, ok, err := p2.ReadBlock("wal-recovered")
	if err != nil {
		t.Fatalf("ReadBlock after recovery failed: %v", err)
	}
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected committed write to be redone from the WAL, ok=%v got=%q", ok, got)
	}
}

// TestOpenSurvivesTornTrailingWALRecord simulates a crash that tears the
// very last physical WAL record (its checksum no longer matches what a
// complete write would have produced). Open must still succeed rather than
// treating the corrupted tail as a fatal error. The torn record is this
// transaction's commit, so recovery has nothing to redo; the block stays
// readable because WriteBlock already flushed its registry entry to disk.
func TestOpenSurvivesTornTrailingWALRecord(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := p.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	payload := []byte("committed before the crash")
	if err := p.WriteBlock("safe", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := p.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}

	// Simulate the crash: drop the in-memory registry entry (the on-disk
	// registry still holds it), then tear the last physical record written
	// to the WAL region (the commit record) by flipping a byte of its stored
	// checksum.
	p.reg.Delete("safe")

	buf := make([]byte, walcore.RegionHeaderSize)
	if _, err := p.walHandle.ReadAt(buf, 0); err != nil {
		t.Fatalf("failed to read WAL region header: %v", err)
	}
	hdr := walcore.DecodeRegionHeader(buf)
	lastIdx := hdr.Tail - 1
	const checksumOffset = walcore.RecordHeaderSize - 32
	slot := int64(walcore.RegionHeaderSize) + int64(lastIdx%hdr.MaxEntries)*walcore.EntrySize
	cb := make([]byte, 1)
	if _, err := p.walHandle.ReadAt(cb, slot+int64(checksumOffset)); err != nil {
		t.Fatalf("failed to read checksum byte: %v", err)
	}
	cb[0] ^= 0xFF
	if _, err := p.walHandle.WriteAt(cb, slot+int64(checksumOffset)); err != nil {
		t.Fatalf("failed to corrupt checksum byte: %v", err)
	}

	if err := p.file.Close(); err != nil {
		t.Fatalf("failed to simulate crash close: %v", err)
	}

	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open must tolerate a torn trailing WAL record, got error: %v", err)
	}
	defer p2.Close()

	got, ok, err := p2.ReadBlock("safe")
	if err != nil {
		t.Fatalf("ReadBlock after recovery failed: %v", err)
	}
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected committed write to be redone despite the torn trailing record, ok=%v got=%q", ok, got)
	}
}

func TestVacuumFullShrinksAfterMassiveDelete(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	payload := bytes.Repeat([]byte("x"), DefaultPageSize*2)
	const blockCount = 40
	for i := 0; i < blockCount; i++ {
		name := blockName(i)
		if err := p.WriteBlock(name, payload); err != nil {
			t.Fatalf("WriteBlock(%s) failed: %v", name, err)
		}
	}
	// Keep a handful, delete the rest: the file should still hold a lot of
	// now-dead, unreferenced space until a full vacuum reclaims it.
	for i := 1; i < blockCount; i++ {
		if err := p.DeleteBlock(blockName(i)); err != nil {
			t.Fatalf("DeleteBlock(%s) failed: %v", blockName(i), err)
		}
	}

	before := p.GetStatistics()

	report, err := p.Vacuum(vacuum.ModeFull)
	if err != nil {
		t.Fatalf("Vacuum(ModeFull) failed: %v", err)
	}
	if !report.Success {
		t.Fatalf("expected vacuum to succeed: %+v", report)
	}

	after := p.GetStatistics()
	if after.TotalPages >= before.TotalPages {
		t.Fatalf("expected full vacuum to shrink total pages: before=%d after=%d", before.TotalPages, after.TotalPages)
	}

	got, ok, err := p.ReadBlock(blockName(0))
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected surviving block to read back intact after vacuum: ok=%v err=%v", ok, err)
	}
	for i := 1; i < blockCount; i++ {
		if p.BlockExists(blockName(i)) {
			t.Fatalf("expected deleted block %s to stay deleted after vacuum", blockName(i))
		}
	}
}

func blockName(i int) string {
	return "block-" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}

func TestChecksumMismatchIsDetected(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	payload := []byte("tamper target")
	if err := p.WriteBlock("tampered", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	meta, ok := p.GetMetadata("tampered")
	if !ok {
		t.Fatalf("expected metadata to be present")
	}

	corrupt := []byte("TAMPERED!!!!!!")
	if _, err := p.file.WriteAt(corrupt, p.dataBase+int64(meta.Offset)); err != nil {
		t.Fatalf("failed to corrupt bytes directly: %v", err)
	}

	if _, _, err := p.ReadBlock("tampered"); !errors.Is(err, scdberr.ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	path := newTestPath(t)
	key := bytes.Repeat([]byte{0x42}, 32)

	p, err := Open(path, Options{EnableEncryption: true, EncryptionKey: key})
	if err != nil {
		t.Fatalf("Open with encryption failed: %v", err)
	}

	payload := []byte("only readable with the key")
	if err := p.WriteBlock("secret", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	got, ok, err := p.ReadBlock("secret")
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Fatalf("round trip through encryption failed: ok=%v err=%v", ok, err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := Open(path, Options{EnableEncryption: true}); !errors.Is(err, scdberr.ErrEncryptionKeyMissing) {
		t.Fatalf("expected ErrEncryptionKeyMissing when reopening without a key, got %v", err)
	}

	p2, err := Open(path, Options{EncryptionKey: key})
	if err != nil {
		t.Fatalf("reopen with key failed: %v", err)
	}
	defer p2.Close()
	got2, ok, err := p2.ReadBlock("secret")
	if err != nil || !ok || !bytes.Equal(got2, payload) {
		t.Fatalf("round trip after reopen with encryption failed: ok=%v err=%v", ok, err)
	}
}

// TestEncryptedGrowAndShrinkReusesOffsetSafely rewrites the same block
// three times, sized so the last write's allocation still fits inside the
// middle write's larger one and so reuses its offset (writeBlockLocked's
// "if required_pages <= existing_pages: reuse offset" path). A nonce
// derived only from that shared offset would reuse the same (key, nonce)
// pair across the second and third writes; each write must still decrypt
// to exactly what it wrote.
func TestEncryptedGrowAndShrinkReusesOffsetSafely(t *testing.T) {
	path := newTestPath(t)
	key := bytes.Repeat([]byte{0x7A}, 32)

	p, err := Open(path, Options{EnableEncryption: true, EncryptionKey: key, PageSize: 512})
	if err != nil {
		t.Fatalf("Open with encryption failed: %v", err)
	}
	defer p.Close()

	small := bytes.Repeat([]byte{0x01}, 100)
	if err := p.WriteBlock("grow-shrink", small); err != nil {
		t.Fatalf("WriteBlock(small) failed: %v", err)
	}

	large := bytes.Repeat([]byte{0x02}, 9000)
	if err := p.WriteBlock("grow-shrink", large); err != nil {
		t.Fatalf("WriteBlock(large) failed: %v", err)
	}
	entryAfterGrow, ok := p.reg.Get("grow-shrink")
	if !ok {
		t.Fatalf("expected registry entry after grow")
	}

	shrunk := bytes.Repeat([]byte{0x03}, 50)
	if err := p.WriteBlock("grow-shrink", shrunk); err != nil {
		t.Fatalf("WriteBlock(shrunk) failed: %v", err)
	}
	entryAfterShrink, ok := p.reg.Get("grow-shrink")
	if !ok {
		t.Fatalf("expected registry entry after shrink")
	}
	if entryAfterShrink.Offset != entryAfterGrow.Offset {
		t.Fatalf("expected the shrink write to reuse the grow write's offset, got %d vs %d", entryAfterShrink.Offset, entryAfterGrow.Offset)
	}

	got, ok, err := p.ReadBlock("grow-shrink")
	if err != nil || !ok || !bytes.Equal(got, shrunk) {
		t.Fatalf("expected the final shrink write to read back correctly despite offset reuse, ok=%v err=%v got=%q", ok, err, got)
	}
}

// TestEncryptedBlocksSurviveVacuumIncremental and
// TestEncryptedBlocksSurviveVacuumFull guard against vacuum relocating a
// sealed block's bytes to a new offset and leaving it undecryptable.
func TestEncryptedBlocksSurviveVacuumIncremental(t *testing.T) {
	path := newTestPath(t)
	key := bytes.Repeat([]byte{0x11}, 32)

	p, err := Open(path, Options{EnableEncryption: true, EncryptionKey: key, PageSize: 512})
	if err != nil {
		t.Fatalf("Open with encryption failed: %v", err)
	}
	defer p.Close()

	// Put a 16-page filler below "movable", then free it, so a free extent
	// at a lower offset gives the incremental heuristic somewhere better to
	// relocate "movable" to.
	if err := p.WriteBlock("filler", bytes.Repeat([]byte{0xCD}, 8000)); err != nil {
		t.Fatalf("WriteBlock(filler) failed: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 300)
	if err := p.WriteBlock("movable", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := p.DeleteBlock("filler"); err != nil {
		t.Fatalf("DeleteBlock(filler) failed: %v", err)
	}

	if _, err := p.Vacuum(vacuum.ModeIncremental); err != nil {
		t.Fatalf("Vacuum(ModeIncremental) failed: %v", err)
	}

	got, ok, err := p.ReadBlock("movable")
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected relocated encrypted block to still decrypt, ok=%v err=%v", ok, err)
	}
}

func TestEncryptedBlocksSurviveVacuumFull(t *testing.T) {
	path := newTestPath(t)
	key := bytes.Repeat([]byte{0x22}, 32)

	p, err := Open(path, Options{EnableEncryption: true, EncryptionKey: key, PageSize: 512})
	if err != nil {
		t.Fatalf("Open with encryption failed: %v", err)
	}
	defer p.Close()

	payload := bytes.Repeat([]byte{0xEF}, 300)
	if err := p.WriteBlock("movable", payload); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	if _, err := p.Vacuum(vacuum.ModeFull); err != nil {
		t.Fatalf("Vacuum(ModeFull) failed: %v", err)
	}

	got, ok, err := p.ReadBlock("movable")
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected rebuilt encrypted block to still decrypt, ok=%v err=%v", ok, err)
	}
}

func TestPagerAllocateAndInsertRecordGrowDataRegionAsNeeded(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	page, err := p.AllocatePage(format.PageTypePrimary, 1)
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if page == nil {
		t.Fatalf("expected a non-nil page")
	}

	// A payload several times larger than one paged-record-layout page
	// forces InsertRecord to allocate a primary page plus several overflow
	// pages, which must grow the data region's window before any of those
	// pages are written.
	big := bytes.Repeat([]byte("r"), format.PageSize*5)
	pageID, slot, err := p.InsertRecord(1, big, 1)
	if err != nil {
		t.Fatalf("InsertRecord with an oversized payload failed: %v", err)
	}

	readBack, err := p.ReadFullRecord(pageID, slot)
	if err != nil {
		t.Fatalf("ReadFullRecord failed: %v", err)
	}
	if !bytes.Equal(readBack, big) {
		t.Fatalf("record round trip through overflow pages mismatched")
	}
}

func TestOpenRejectsMismatchedPageSizeOnReopen(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := Open(path, Options{PageSize: 8192}); err == nil {
		t.Fatalf("expected an error when reopening with a mismatched page size")
	} else if !errors.Is(err, scdberr.ErrPageSizeMismatch) {
		t.Fatalf("expected ErrPageSizeMismatch, got %v", err)
	}
}

func TestEnumerateBlocksReflectsWritesAndDeletes(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	for _, name := range []string{"a", "b", "c"} {
		if err := p.WriteBlock(name, []byte(name)); err != nil {
			t.Fatalf("WriteBlock(%s) failed: %v", name, err)
		}
	}
	if got := len(p.EnumerateBlocks()); got != 3 {
		t.Fatalf("expected 3 blocks, got %d", got)
	}

	if err := p.DeleteBlock("b"); err != nil {
		t.Fatalf("DeleteBlock failed: %v", err)
	}
	names := p.EnumerateBlocks()
	if len(names) != 2 {
		t.Fatalf("expected 2 blocks after delete, got %d", len(names))
	}
	for _, n := range names {
		if n == "b" {
			t.Fatalf("deleted block still enumerated")
		}
	}
}

func TestFileIsTruncatedCleanlyOnFreshCreate(t *testing.T) {
	path := newTestPath(t)
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected a fresh file to be sized to at least its fixed-offset regions")
	}
}
