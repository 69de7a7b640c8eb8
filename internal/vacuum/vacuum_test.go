package vacuum

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/walcore"
)

// fileBlockIO implements vacuum.BlockIO over a real file, translating the
// FSM's logical (region-relative) page offsets to absolute file offsets by
// adding the data region's base, the same way a provider's own BlockIO
// implementation would.
type fileBlockIO struct {
	f    *os.File
	base uint64
}

func (b *fileBlockIO) ReadBlockBytes(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	_, err := b.f.ReadAt(buf, int64(b.base+offset))
	return buf, err
}

func (b *fileBlockIO) WriteBlockBytes(offset uint64, data []byte) error {
	_, err := b.f.WriteAt(data, int64(b.base+offset))
	return err
}

func TestQuickChecksPointsWAL(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "vacuum-wal-*.scdb")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()
	const size = 1 << 20
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}
	h := iohandle.New(f, 0, size)
	wal, err := walcore.Open(h, true, 64)
	if err != nil {
		t.Fatalf("walcore.Open failed: %v", err)
	}
	space, err := fsm.New(iohandle.New(f, 512*1024, 64*1024), 4096, 100, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("fsm.New failed: %v", err)
	}

	report, err := Quick(wal, space, time.Unix(10, 0))
	if err != nil {
		t.Fatalf("Quick failed: %v", err)
	}
	if !report.Success || report.Mode != ModeQuick {
		t.Fatalf("unexpected report: %+v", report)
	}
	if wal.LastCheckpointLSN() == 0 {
		t.Fatalf("expected a checkpoint LSN to be recorded")
	}
}

func TestIncrementalRelocatesDirtyBlockToLowerOffset(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "vacuum-inc-*.scdb")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()
	const size = 4 << 20
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	regH := iohandle.New(f, 0, 64*1024)
	reg := registry.New(regH, nil)

	fsmH := iohandle.New(f, 64*1024, 64*1024)
	space, err := fsm.New(fsmH, 4096, 1024, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("fsm.New failed: %v", err)
	}

	// Simulate a block sitting at a high page (as if earlier frees opened
	// up lower pages) by allocating several pages first, then the target
	// block at a still-higher page, then freeing the earlier ones so a
	// lower offset becomes available again. The freed run is 20 pages so it
	// is large enough to be tracked as a free extent, which is where the
	// allocator looks first.
	if _, err := space.AllocatePages(20); err != nil {
		t.Fatalf("AllocatePages failed: %v", err)
	}
	blockOffset, err := space.AllocatePages(1)
	if err != nil {
		t.Fatalf("AllocatePages failed: %v", err)
	}
	if err := space.FreePages(0, 20); err != nil {
		t.Fatalf("FreePages failed: %v", err)
	}

	payload := []byte("relocate me")
	io := &fileBlockIO{f: f, base: 512 * 1024}
	if err := io.WriteBlockBytes(blockOffset, payload); err != nil {
		t.Fatalf("WriteBlockBytes failed: %v", err)
	}

	if err := reg.Put(registry.Entry{
		Name:     "dirty-block",
		Type:     format.BlockTypeRaw,
		Offset:   blockOffset,
		Length:   uint64(len(payload)),
		Flags:    format.BlockFlagDirty,
		Checksum: format.Checksum256(payload),
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	report, err := Incremental(reg, space, io, 4096, time.Unix(20, 0))
	if err != nil {
		t.Fatalf("Incremental failed: %v", err)
	}
	if !report.Success {
		t.Fatalf("expected success, got %+v", report)
	}
	if report.BlocksMoved != 1 {
		t.Fatalf("expected the dirty block to be relocated, got %+v", report)
	}
}

type stubRebuilder struct {
	rebuildCalled bool
	swapCalled    bool
	failSwap      bool
}

func (s *stubRebuilder) Rebuild(tempPath string) error {
	s.rebuildCalled = true
	return os.WriteFile(tempPath, []byte("rebuilt"), 0o600)
}

func (s *stubRebuilder) Swap(tempPath string) error {
	s.swapCalled = true
	if s.failSwap {
		return fmt.Errorf("simulated swap failure")
	}
	return nil
}

func TestFullCallsRebuildThenSwap(t *testing.T) {
	r := &stubRebuilder{}
	report, err := Full(r, "temp.scdb", fsm.Stats{FragmentationPct: 42}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if !r.rebuildCalled || !r.swapCalled {
		t.Fatalf("expected both Rebuild and Swap to be called")
	}
	if !report.Success || report.FragBefore != 42 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestFullReportsSwapFailure(t *testing.T) {
	r := &stubRebuilder{failSwap: true}
	_, err := Full(r, "temp.scdb", fsm.Stats{}, time.Unix(0, 0))
	if err == nil {
		t.Fatalf("expected error when swap fails")
	}
}
