package pager

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/scdb-go/scdb/internal/cache"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/iohandle"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pager-*.scdb")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	const size = 16 << 20
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to truncate temp file: %v", err)
	}

	alloc, err := fsm.New(iohandle.New(f, 0, size/2), 4096, 1024, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("fsm.New failed: %v", err)
	}
	dataIO := iohandle.New(f, size/2, size/2)

	return NewManager(dataIO, alloc, 4096, cache.New(16))
}

func TestInsertAndReadFullRecordSinglePage(t *testing.T) {
	m := newTestManager(t)

	pageID, slotID, err := m.InsertRecord(1, []byte("small record"), 1)
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}

	got, err := m.ReadFullRecord(pageID, slotID)
	if err != nil {
		t.Fatalf("ReadFullRecord failed: %v", err)
	}
	if !bytes.Equal(got, []byte("small record")) {
		t.Fatalf("unexpected record: %q", got)
	}
}

func TestInsertSpillsToOverflowChain(t *testing.T) {
	m := newTestManager(t)

	large := bytes.Repeat([]byte("x"), format.PageSize*2)
	pageID, slotID, err := m.InsertRecord(1, large, 1)
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}

	got, err := m.ReadFullRecord(pageID, slotID)
	if err != nil {
		t.Fatalf("ReadFullRecord failed: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Fatalf("overflow chain round trip mismatch: got %d bytes, want %d", len(got), len(large))
	}
}

func TestWritePageThenReadPageUsesCache(t *testing.T) {
	m := newTestManager(t)

	p, err := m.AllocatePage(format.PageTypePrimary, 1)
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	p.InsertRecord([]byte("cached"), 1)
	if err := m.WritePage(p); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}

	reloaded, err := m.ReadPage(p.PageID())
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	got, ok := reloaded.ReadRecord(0)
	if !ok || string(got) != "cached" {
		t.Fatalf("unexpected record from reloaded page: %q ok=%v", got, ok)
	}
}
