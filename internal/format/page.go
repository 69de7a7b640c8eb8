package format

import (
	"fmt"
	"hash/crc32"
)

// PageSize is the fixed size of a paged-record-layout page.
const PageSize = 8192

// PageHeaderSize is the fixed size of a page's header.
const PageHeaderSize = 64

// SlotSize is the fixed size of one slot-array entry (offset, length,
// flags), growing forward from just after the page header.
const SlotSize = 8

// PageType distinguishes a page holding only inline records from one that
// is itself an overflow-chain page.
type PageType uint8

const (
	PageTypePrimary  PageType = 0
	PageTypeOverflow PageType = 1
)

// SlotFlag bits stored in a slot entry.
type SlotFlag uint16

const (
	SlotFlagTombstoned SlotFlag = 1 << 0
	SlotFlagHasOverflow SlotFlag = 1 << 1
)

const pageNoPage = ^uint64(0)

// PageHeader is the fixed 64-byte prefix of every paged-layout page. CRC32
// (not SHA-256) is used here deliberately: page checksums are verified on
// every read in the hot path, where CRC32's speed matters more than
// cryptographic strength.
type PageHeader struct {
	PageID       uint64
	Type         PageType
	TableID      uint32
	LSN          uint64
	FreeSpacePtr uint16 // lowest byte offset currently occupied by a record
	RecordCount  uint16
	NextPageID   uint64 // overflow chain continuation, or pageNoPage
	PrevPageID   uint64
	CRC32        uint32 // over bytes [PageHeaderSize:PageSize)
}

// EncodePageHeader serializes h into a PageHeaderSize-byte buffer.
func EncodePageHeader(h PageHeader) []byte {
	buf := make([]byte, PageHeaderSize)
	off := 0
	ByteOrder.PutUint64(buf[off:], h.PageID)
	off += 8
	buf[off] = byte(h.Type)
	off += 1 + 3
	ByteOrder.PutUint32(buf[off:], h.TableID)
	off += 4
	ByteOrder.PutUint64(buf[off:], h.LSN)
	off += 8
	ByteOrder.PutUint16(buf[off:], h.FreeSpacePtr)
	off += 2
	ByteOrder.PutUint16(buf[off:], h.RecordCount)
	off += 2
	ByteOrder.PutUint64(buf[off:], h.NextPageID)
	off += 8
	ByteOrder.PutUint64(buf[off:], h.PrevPageID)
	off += 8
	ByteOrder.PutUint32(buf[off:], h.CRC32)
	return buf
}

// DecodePageHeader parses a PageHeaderSize-byte buffer into a PageHeader.
func DecodePageHeader(buf []byte) (PageHeader, error) {
	if len(buf) < PageHeaderSize {
		return PageHeader{}, fmt.Errorf("format: short page header (%d bytes)", len(buf))
	}
	var h PageHeader
	off := 0
	h.PageID = ByteOrder.Uint64(buf[off:])
	off += 8
	h.Type = PageType(buf[off])
	off += 1 + 3
	h.TableID = ByteOrder.Uint32(buf[off:])
	off += 4
	h.LSN = ByteOrder.Uint64(buf[off:])
	off += 8
	h.FreeSpacePtr = ByteOrder.Uint16(buf[off:])
	off += 2
	h.RecordCount = ByteOrder.Uint16(buf[off:])
	off += 2
	h.NextPageID = ByteOrder.Uint64(buf[off:])
	off += 8
	h.PrevPageID = ByteOrder.Uint64(buf[off:])
	off += 8
	h.CRC32 = ByteOrder.Uint32(buf[off:])
	return h, nil
}

// PageChecksum computes the CRC32 of a page's data portion (everything
// after the header).
func PageChecksum(page []byte) uint32 {
	return crc32.ChecksumIEEE(page[PageHeaderSize:])
}

// Slot is one decoded slot-array entry.
type Slot struct {
	Offset uint16
	Length uint16
	Flags  SlotFlag
}

// EncodeSlot serializes a Slot into a SlotSize-byte buffer.
func EncodeSlot(s Slot) []byte {
	buf := make([]byte, SlotSize)
	ByteOrder.PutUint16(buf[0:], s.Offset)
	ByteOrder.PutUint16(buf[2:], s.Length)
	ByteOrder.PutUint16(buf[4:], uint16(s.Flags))
	return buf
}

// DecodeSlot parses a SlotSize-byte buffer into a Slot.
func DecodeSlot(buf []byte) Slot {
	return Slot{
		Offset: ByteOrder.Uint16(buf[0:]),
		Length: ByteOrder.Uint16(buf[2:]),
		Flags:  SlotFlag(ByteOrder.Uint16(buf[4:])),
	}
}

// NoPageID is the sentinel NextPageID/PrevPageID value meaning "no link".
func NoPageID() uint64 { return pageNoPage }
