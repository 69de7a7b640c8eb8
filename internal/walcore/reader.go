package walcore

import (
	"fmt"

	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// Reader scans the live records of a WAL region in order, from Head to
// Tail, validating each record's checksum as it goes.
type Reader struct {
	handle *iohandle.Handle
	hdr    RegionHeader
	pos    uint64 // next index to read, Head <= pos <= Tail
}

// NewReader opens a Reader over the region header currently persisted at
// handle's start. The WAL itself may be concurrently open elsewhere (e.g.
// recovery runs before the writer-side WAL is constructed), so the reader
// re-reads the header rather than sharing one in memory.
func NewReader(handle *iohandle.Handle) (*Reader, error) {
	buf := make([]byte, RegionHeaderSize)
	if _, err := handle.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("walcore: reader failed to read region header: %w", err)
	}
	hdr := DecodeRegionHeader(buf)
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("walcore: bad WAL magic: %w", scdberr.ErrHeaderInvalid)
	}
	return &Reader{handle: handle, hdr: hdr, pos: hdr.Head}, nil
}

// Head and Tail expose the region's recorded bounds.
func (r *Reader) Head() uint64 { return r.hdr.Head }
func (r *Reader) Tail() uint64 { return r.hdr.Tail }

// Next returns the next live record in the ring, or ok=false once Tail is
// reached.
func (r *Reader) Next() (Record, bool, error) {
	if r.pos >= r.hdr.Tail {
		return Record{}, false, nil
	}

	slot := int64(RegionHeaderSize) + int64(r.pos%r.hdr.MaxEntries)*EntrySize
	entry := make([]byte, EntrySize)
	if _, err := r.handle.ReadAt(entry, slot); err != nil {
		return Record{}, false, fmt.Errorf("walcore: failed to read record at index %d: %w", r.pos, err)
	}

	headerBuf := entry[:RecordHeaderSize]
	hdr := decodeRecordHeader(headerBuf)
	payload := entry[RecordHeaderSize : RecordHeaderSize+hdr.DataLength]

	sum := recordChecksum(headerBuf[:checksumOffset], payload)
	if sum != hdr.Checksum {
		return Record{}, false, fmt.Errorf("walcore: record at index %d: %w: %w", r.pos, scdberr.ErrTornRecord, scdberr.ErrChecksumMismatch)
	}
	if !validOp(hdr.Op) {
		return Record{}, false, fmt.Errorf("walcore: record at index %d has invalid op %d: %w", r.pos, hdr.Op, scdberr.ErrTornRecord)
	}

	r.pos++
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)
	return Record{Header: hdr, Payload: payloadCopy}, true, nil
}

// ReadAll drains the reader into a slice, for recovery and small-WAL tests.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, ok, err := r.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}
