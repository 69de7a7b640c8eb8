package pager

import (
	"bytes"
	"testing"

	"github.com/scdb-go/scdb/internal/format"
)

func TestInsertAndReadRecord(t *testing.T) {
	p := New(1, format.PageTypePrimary, 7)

	sid, ok := p.InsertRecord([]byte("hello"), 1)
	if !ok {
		t.Fatalf("expected insert to succeed")
	}
	got, ok := p.ReadRecord(sid)
	if !ok || string(got) != "hello" {
		t.Fatalf("unexpected read: %q ok=%v", got, ok)
	}
}

func TestUpdateInPlaceWhenShorter(t *testing.T) {
	p := New(1, format.PageTypePrimary, 0)
	sid, _ := p.InsertRecord([]byte("abcdef"), 1)

	res, err := p.UpdateRecord(sid, []byte("xyz"), 2)
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if res != UpdateInPlace {
		t.Fatalf("expected UpdateInPlace, got %v", res)
	}
	got, _ := p.ReadRecord(sid)
	if string(got) != "xyz" {
		t.Fatalf("unexpected value after in-place update: %q", got)
	}
}

func TestUpdateShiftsWhenLongerButRoomExists(t *testing.T) {
	p := New(1, format.PageTypePrimary, 0)
	sid, _ := p.InsertRecord([]byte("short"), 1)

	res, err := p.UpdateRecord(sid, []byte("a much longer replacement value"), 2)
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if res != UpdateShifted {
		t.Fatalf("expected UpdateShifted, got %v", res)
	}
	if _, ok := p.ReadRecord(sid); ok {
		t.Fatalf("old slot should be tombstoned, not readable")
	}
}

func TestDeleteThenCompactReclaimsSpace(t *testing.T) {
	p := New(1, format.PageTypePrimary, 0)
	s1, _ := p.InsertRecord([]byte("one"), 1)
	s2, _ := p.InsertRecord([]byte("two"), 1)

	freeBefore := p.FreeBytes()
	if err := p.DeleteRecord(s1); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if p.FreeBytes() != freeBefore {
		t.Fatalf("tombstoning alone should not change free space")
	}

	p.CompactPage()
	if p.FreeBytes() <= freeBefore {
		t.Fatalf("expected CompactPage to reclaim tombstoned space")
	}
	if p.RecordCount() != 1 {
		t.Fatalf("tombstoned record should be gone after compaction")
	}
	got, ok := p.ReadRecord(0)
	_ = s2
	if !ok || string(got) != "two" {
		t.Fatalf("surviving record should still be readable after compaction, got %q ok=%v", got, ok)
	}
}

func TestBytesRoundTripsThroughLoad(t *testing.T) {
	p := New(42, format.PageTypePrimary, 3)
	p.InsertRecord([]byte("payload"), 9)

	buf := p.Bytes()
	loaded, err := Load(buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.PageID() != 42 {
		t.Fatalf("expected page id 42, got %d", loaded.PageID())
	}
	got, ok := loaded.ReadRecord(0)
	if !ok || !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("unexpected record after round trip: %q ok=%v", got, ok)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	p := New(1, format.PageTypePrimary, 0)
	p.InsertRecord([]byte("data"), 1)
	buf := p.Bytes()
	buf[format.PageSize-1] ^= 0xFF

	if _, err := Load(buf); err == nil {
		t.Fatalf("expected checksum mismatch error on corrupted page")
	}
}
