package format

import "fmt"

// TableEntrySize is the fixed on-disk size of one table descriptor.
const TableEntrySize = 64

// TableFlag bits stored in TableEntry.Flags.
type TableFlag uint32

const (
	TableFlagDropped TableFlag = 1 << 0
)

// TableEntry is one table directory record: a table id, its name, and a
// reference to the block holding its (opaque, schema-layer-owned) schema
// blob.
type TableEntry struct {
	TableID           uint32
	Flags             TableFlag
	SchemaBlockOffset uint64
	SchemaBlockLength uint64
	InlineName        [MaxInlineName]byte
	NameLen           uint8
}

// EncodeTableEntry serializes a TableEntry into a TableEntrySize-byte slice.
func EncodeTableEntry(e TableEntry) []byte {
	buf := make([]byte, TableEntrySize)
	off := 0
	ByteOrder.PutUint32(buf[off:], e.TableID)
	off += 4
	ByteOrder.PutUint32(buf[off:], uint32(e.Flags))
	off += 4
	ByteOrder.PutUint64(buf[off:], e.SchemaBlockOffset)
	off += 8
	ByteOrder.PutUint64(buf[off:], e.SchemaBlockLength)
	off += 8
	copy(buf[off:off+MaxInlineName], e.InlineName[:])
	off += MaxInlineName
	buf[off] = e.NameLen
	return buf
}

// DecodeTableEntry parses a TableEntrySize-byte slice into a TableEntry.
func DecodeTableEntry(buf []byte) (TableEntry, error) {
	if len(buf) < TableEntrySize {
		return TableEntry{}, fmt.Errorf("format: short table entry (%d bytes)", len(buf))
	}
	var e TableEntry
	off := 0
	e.TableID = ByteOrder.Uint32(buf[off:])
	off += 4
	e.Flags = TableFlag(ByteOrder.Uint32(buf[off:]))
	off += 4
	e.SchemaBlockOffset = ByteOrder.Uint64(buf[off:])
	off += 8
	e.SchemaBlockLength = ByteOrder.Uint64(buf[off:])
	off += 8
	copy(e.InlineName[:], buf[off:off+MaxInlineName])
	off += MaxInlineName
	e.NameLen = buf[off]
	return e, nil
}
