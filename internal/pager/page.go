// Package pager implements an optional paged record layout: 8 KiB pages
// with a slot array growing forward from the header and records growing
// backward from the page's high-address end, overflow chains for
// oversized records, and tombstone-then-compact deletion.
package pager

import (
	"fmt"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// UpdateResult describes how UpdateRecord satisfied a request: in-place
// when the new length fits the old slot, shifted within the page if room
// remains, or relocated to a fresh page otherwise.
type UpdateResult int

const (
	UpdateInPlace UpdateResult = iota
	UpdateShifted
	UpdateNeedsRelocate
)

// Page is one decoded, mutable paged-layout page.
type Page struct {
	buf   []byte // length format.PageSize
	hdr   format.PageHeader
	slots []format.Slot
}

// New creates an empty page of the given id/type/table, ready for inserts.
func New(pageID uint64, pageType format.PageType, tableID uint32) *Page {
	return &Page{
		buf: make([]byte, format.PageSize),
		hdr: format.PageHeader{
			PageID:       pageID,
			Type:         pageType,
			TableID:      tableID,
			FreeSpacePtr: format.PageSize,
			NextPageID:   format.NoPageID(),
			PrevPageID:   format.NoPageID(),
		},
	}
}

// Load decodes a page from its on-disk bytes, verifying its CRC32.
func Load(buf []byte) (*Page, error) {
	if len(buf) != format.PageSize {
		return nil, fmt.Errorf("pager: page buffer must be %d bytes, got %d", format.PageSize, len(buf))
	}
	hdr, err := format.DecodePageHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("pager: %w", err)
	}
	if got := format.PageChecksum(buf); got != hdr.CRC32 {
		return nil, fmt.Errorf("pager: page %d: %w", hdr.PageID, scdberr.ErrChecksumMismatch)
	}

	p := &Page{buf: append([]byte(nil), buf...), hdr: hdr}
	for i := 0; i < int(hdr.RecordCount); i++ {
		off := format.PageHeaderSize + i*format.SlotSize
		p.slots = append(p.slots, format.DecodeSlot(p.buf[off:off+format.SlotSize]))
	}
	return p, nil
}

// slotArrayEnd is the first byte offset not occupied by the slot array.
func (p *Page) slotArrayEnd() int {
	return format.PageHeaderSize + len(p.slots)*format.SlotSize
}

// FreeBytes returns the contiguous free space between the slot array and
// the lowest-addressed record.
func (p *Page) FreeBytes() int {
	return int(p.hdr.FreeSpacePtr) - p.slotArrayEnd()
}

// PageID returns the page's id.
func (p *Page) PageID() uint64 { return p.hdr.PageID }

// NextPageID/SetNextPageID manage the overflow-chain link.
func (p *Page) NextPageID() uint64 { return p.hdr.NextPageID }
func (p *Page) SetNextPageID(id uint64) { p.hdr.NextPageID = id }
func (p *Page) PrevPageID() uint64 { return p.hdr.PrevPageID }
func (p *Page) SetPrevPageID(id uint64) { p.hdr.PrevPageID = id }

// RecordCount returns the number of slots, including tombstoned ones.
func (p *Page) RecordCount() int { return len(p.slots) }

// InsertRecord appends a new slot and writes data at the high-address end.
// Returns false if there is insufficient free space; the caller should
// then start (or append to) an overflow chain.
func (p *Page) InsertRecord(data []byte, lsn uint64) (slotID int, ok bool) {
	needed := format.SlotSize + len(data)
	if p.FreeBytes() < needed {
		return 0, false
	}

	newFreeSpacePtr := int(p.hdr.FreeSpacePtr) - len(data)
	copy(p.buf[newFreeSpacePtr:p.hdr.FreeSpacePtr], data)
	p.hdr.FreeSpacePtr = uint16(newFreeSpacePtr)
	p.hdr.LSN = lsn

	p.slots = append(p.slots, format.Slot{Offset: uint16(newFreeSpacePtr), Length: uint16(len(data))})
	p.hdr.RecordCount = uint16(len(p.slots))
	return len(p.slots) - 1, true
}

// ReadRecord returns the live bytes for slotID, or ok=false if the slot is
// tombstoned or out of range.
func (p *Page) ReadRecord(slotID int) ([]byte, bool) {
	if slotID < 0 || slotID >= len(p.slots) {
		return nil, false
	}
	s := p.slots[slotID]
	if s.Flags&format.SlotFlagTombstoned != 0 {
		return nil, false
	}
	return p.buf[s.Offset : s.Offset+s.Length], true
}

// UpdateRecord rewrites slotID's bytes. If data is no longer than the
// existing slot, it is overwritten in place. If it is longer but the page
// has enough free space to hold a second copy, the old slot is tombstoned
// and a new one appended (a shift within the page). Otherwise the caller
// must relocate the record to a fresh page.
func (p *Page) UpdateRecord(slotID int, data []byte, lsn uint64) (UpdateResult, error) {
	if slotID < 0 || slotID >= len(p.slots) {
		return 0, fmt.Errorf("pager: slot %d out of range", slotID)
	}
	s := p.slots[slotID]

	if len(data) <= int(s.Length) {
		copy(p.buf[s.Offset:s.Offset+uint16(len(data))], data)
		p.slots[slotID].Length = uint16(len(data))
		p.hdr.LSN = lsn
		return UpdateInPlace, nil
	}

	if p.FreeBytes() >= format.SlotSize+len(data) {
		p.slots[slotID].Flags |= format.SlotFlagTombstoned
		if _, ok := p.InsertRecord(data, lsn); !ok {
			return 0, fmt.Errorf("pager: insert-after-tombstone unexpectedly failed")
		}
		return UpdateShifted, nil
	}

	return UpdateNeedsRelocate, nil
}

// DeleteRecord tombstones slotID without reclaiming its space; CompactPage
// later garbage-collects it.
func (p *Page) DeleteRecord(slotID int) error {
	if slotID < 0 || slotID >= len(p.slots) {
		return fmt.Errorf("pager: slot %d out of range", slotID)
	}
	p.slots[slotID].Flags |= format.SlotFlagTombstoned
	return nil
}

// CompactPage garbage-collects tombstoned slots, repacking live records at
// the high-address end in their current relative order and rebuilding the
// slot array.
func (p *Page) CompactPage() {
	type live struct {
		data  []byte
		flags format.SlotFlag
	}
	var kept []live
	for _, s := range p.slots {
		if s.Flags&format.SlotFlagTombstoned != 0 {
			continue
		}
		data := make([]byte, s.Length)
		copy(data, p.buf[s.Offset:s.Offset+s.Length])
		kept = append(kept, live{data: data, flags: s.Flags})
	}

	newBuf := make([]byte, format.PageSize)
	cursor := uint16(format.PageSize)
	newSlots := make([]format.Slot, 0, len(kept))
	for _, k := range kept {
		cursor -= uint16(len(k.data))
		copy(newBuf[cursor:cursor+uint16(len(k.data))], k.data)
		newSlots = append(newSlots, format.Slot{Offset: cursor, Length: uint16(len(k.data)), Flags: k.flags})
	}

	p.buf = newBuf
	p.slots = newSlots
	p.hdr.FreeSpacePtr = cursor
	p.hdr.RecordCount = uint16(len(newSlots))
}

// HasOverflow reports whether slotID's record flag marks it as continuing
// into an overflow chain.
func (p *Page) HasOverflow(slotID int) bool {
	if slotID < 0 || slotID >= len(p.slots) {
		return false
	}
	return p.slots[slotID].Flags&format.SlotFlagHasOverflow != 0
}

// MarkOverflow sets or clears slotID's HasOverflow flag.
func (p *Page) MarkOverflow(slotID int, has bool) {
	if slotID < 0 || slotID >= len(p.slots) {
		return
	}
	if has {
		p.slots[slotID].Flags |= format.SlotFlagHasOverflow
	} else {
		p.slots[slotID].Flags &^= format.SlotFlagHasOverflow
	}
}

// Bytes serializes the page, writing its current header, slot array, and
// CRC32 checksum.
func (p *Page) Bytes() []byte {
	for i, s := range p.slots {
		off := format.PageHeaderSize + i*format.SlotSize
		copy(p.buf[off:off+format.SlotSize], format.EncodeSlot(s))
	}

	p.hdr.CRC32 = 0
	headerBuf := format.EncodePageHeader(p.hdr)
	copy(p.buf[:format.PageHeaderSize], headerBuf)
	p.hdr.CRC32 = format.PageChecksum(p.buf)
	copy(p.buf[:format.PageHeaderSize], format.EncodePageHeader(p.hdr))

	return p.buf
}
