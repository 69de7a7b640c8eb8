package format

import "fmt"

// FSMMagic identifies the free-space map region header.
var FSMMagic = [8]byte{'S', 'C', 'F', 'S', 'M', 'V', '1', ' '}

// FSMHeaderSize is the fixed size of the FSM region's own header, preceding
// the L1 bitmap and L2 extent list.
const FSMHeaderSize = 64

// FSMHeader describes the FSM region: how many pages the L1 bitmap covers
// and how many L2 extents follow it.
type FSMHeader struct {
	Magic       [8]byte
	Version     uint32
	TotalPages  uint64
	L2Count     uint32
	LastFlushAt int64
}

// EncodeFSMHeader serializes an FSMHeader into an FSMHeaderSize-byte buffer.
func EncodeFSMHeader(h FSMHeader) []byte {
	buf := make([]byte, FSMHeaderSize)
	off := 0
	copy(buf[off:off+8], h.Magic[:])
	off += 8
	ByteOrder.PutUint32(buf[off:], h.Version)
	off += 4
	ByteOrder.PutUint64(buf[off:], h.TotalPages)
	off += 8
	ByteOrder.PutUint32(buf[off:], h.L2Count)
	off += 4
	ByteOrder.PutUint64(buf[off:], uint64(h.LastFlushAt))
	return buf
}

// DecodeFSMHeader parses an FSMHeaderSize-byte buffer into an FSMHeader.
func DecodeFSMHeader(buf []byte) (FSMHeader, error) {
	if len(buf) < FSMHeaderSize {
		return FSMHeader{}, fmt.Errorf("format: short fsm header (%d bytes)", len(buf))
	}
	var h FSMHeader
	off := 0
	copy(h.Magic[:], buf[off:off+8])
	off += 8
	h.Version = ByteOrder.Uint32(buf[off:])
	off += 4
	h.TotalPages = ByteOrder.Uint64(buf[off:])
	off += 8
	h.L2Count = ByteOrder.Uint32(buf[off:])
	off += 4
	h.LastFlushAt = int64(ByteOrder.Uint64(buf[off:]))
	return h, nil
}

// ExtentRecordSize is the on-disk size of one L2 extent record.
const ExtentRecordSize = 16

// ExtentRecord is one free-extent entry in the FSM's L2 layer.
type ExtentRecord struct {
	StartPage uint64
	PageCount uint64
}

// EncodeExtentRecord serializes an ExtentRecord.
func EncodeExtentRecord(e ExtentRecord) []byte {
	buf := make([]byte, ExtentRecordSize)
	ByteOrder.PutUint64(buf[0:], e.StartPage)
	ByteOrder.PutUint64(buf[8:], e.PageCount)
	return buf
}

// DecodeExtentRecord parses an ExtentRecordSize-byte buffer.
func DecodeExtentRecord(buf []byte) ExtentRecord {
	return ExtentRecord{
		StartPage: ByteOrder.Uint64(buf[0:]),
		PageCount: ByteOrder.Uint64(buf[8:]),
	}
}
