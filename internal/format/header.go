// Package format defines the on-disk layout of a .scdb file: the fixed file
// header at offset 0 and the region descriptors that locate every other
// region (block registry, free-space map, WAL, table directory). All
// multi-byte integers are little-endian; structs are encoded field-by-field,
// never via raw memory casts.
//
// File layout:
//
//	offset 0      : FileHeader (4 KiB, fixed)
//	offset H.reg  : BlockRegistry region  [header(64B) | BlockEntry x N]
//	offset H.fsm  : FreeSpaceMap region   [header(64B) | L1 bitmap | L2 count(4B) | L2 extents]
//	offset H.wal  : WAL region            [header(64B) | Entry x max_entries] (circular)
//	offset H.tdir : TableDirectory region [header | TableDescriptor x N]
//	offset >      : Data pages (allocated by FSM)
package format

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/scdb-go/scdb/internal/scdberr"
)

// ByteOrder is the byte order used across every on-disk structure.
var ByteOrder = binary.LittleEndian

// Magic identifies a valid .scdb file (ASCII "SCDBFILE").
var Magic = [8]byte{'S', 'C', 'D', 'B', 'F', 'I', 'L', 'E'}

// CurrentVersion is the format version written by this build.
const CurrentVersion uint32 = 1

// MinSupportedVersion is the oldest format version this build can open.
const MinSupportedVersion uint32 = 1

// HeaderSize is the fixed size of the file header region.
const HeaderSize = 4096

// EncryptionMode identifies the at-rest encryption scheme for data pages.
type EncryptionMode uint8

const (
	EncryptionNone    EncryptionMode = 0
	EncryptionAES256G EncryptionMode = 1 // AES-256-GCM
)

// MinPageSize and MaxPageSize bound the configurable page size (power of two).
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// RegionDescriptor locates one region by byte offset and length.
type RegionDescriptor struct {
	Offset uint64
	Length uint64
}

const regionDescriptorSize = 16

// Header is the fixed 4 KiB prefix of a .scdb file.
type Header struct {
	Magic             [8]byte
	Version           uint32
	PageSize          uint32
	CreatedAt         int64
	LastModifiedAt    int64
	LastTxnID         uint64
	LastCheckpointLSN uint64
	AllocatedPages    uint64
	FragmentationPct  uint32
	EncryptionMode    EncryptionMode
	_                 [3]byte // alignment padding
	NonceSeed         [12]byte

	RegistryRegion RegionDescriptor
	FSMRegion      RegionDescriptor
	WALRegion      RegionDescriptor
	TableDirRegion RegionDescriptor

	LastVacuumAt int64

	// Checksum is SHA-256 over every preceding field, computed with this
	// field itself treated as zero.
	Checksum [32]byte
}

// NewHeader builds a header for a freshly created file with the given page
// size and region layout. CreatedAt/LastModifiedAt are supplied by the
// caller (not time.Now()) so callers can keep file creation deterministic
// for tests.
func NewHeader(pageSize uint32, now time.Time, regions Regions) *Header {
	h := &Header{
		Magic:          Magic,
		Version:        CurrentVersion,
		PageSize:       pageSize,
		CreatedAt:      now.Unix(),
		LastModifiedAt: now.Unix(),
		RegistryRegion: regions.Registry,
		FSMRegion:      regions.FSM,
		WALRegion:      regions.WAL,
		TableDirRegion: regions.TableDir,
	}
	return h
}

// Regions bundles the four region descriptors a fresh header needs.
type Regions struct {
	Registry RegionDescriptor
	FSM      RegionDescriptor
	WAL      RegionDescriptor
	TableDir RegionDescriptor
}

// Encode serializes the header into a HeaderSize-byte buffer, computing and
// filling in the trailing checksum.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.encodeFieldsInto(buf)
	sum := checksumFields(buf[:headerChecksumOffset])
	copy(buf[headerChecksumOffset:headerChecksumOffset+32], sum[:])
	h.Checksum = sum
	return buf
}

// headerChecksumOffset is the byte offset of the Checksum field within the
// encoded buffer; everything before it participates in the checksum.
const headerChecksumOffset = 8 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 1 + 3 + 12 +
	regionDescriptorSize*4 + 8

func (h *Header) encodeFieldsInto(buf []byte) {
	off := 0
	copy(buf[off:off+8], h.Magic[:])
	off += 8
	ByteOrder.PutUint32(buf[off:], h.Version)
	off += 4
	ByteOrder.PutUint32(buf[off:], h.PageSize)
	off += 4
	ByteOrder.PutUint64(buf[off:], uint64(h.CreatedAt))
	off += 8
	ByteOrder.PutUint64(buf[off:], uint64(h.LastModifiedAt))
	off += 8
	ByteOrder.PutUint64(buf[off:], h.LastTxnID)
	off += 8
	ByteOrder.PutUint64(buf[off:], h.LastCheckpointLSN)
	off += 8
	ByteOrder.PutUint64(buf[off:], h.AllocatedPages)
	off += 8
	ByteOrder.PutUint32(buf[off:], h.FragmentationPct)
	off += 4
	buf[off] = byte(h.EncryptionMode)
	off += 1 + 3 // skip reserved padding
	copy(buf[off:off+12], h.NonceSeed[:])
	off += 12
	off = putRegion(buf, off, h.RegistryRegion)
	off = putRegion(buf, off, h.FSMRegion)
	off = putRegion(buf, off, h.WALRegion)
	off = putRegion(buf, off, h.TableDirRegion)
	ByteOrder.PutUint64(buf[off:], uint64(h.LastVacuumAt))
}

func putRegion(buf []byte, off int, r RegionDescriptor) int {
	ByteOrder.PutUint64(buf[off:], r.Offset)
	off += 8
	ByteOrder.PutUint64(buf[off:], r.Length)
	off += 8
	return off
}

func getRegion(buf []byte, off int) (RegionDescriptor, int) {
	r := RegionDescriptor{
		Offset: ByteOrder.Uint64(buf[off:]),
		Length: ByteOrder.Uint64(buf[off+8:]),
	}
	return r, off + 16
}

// Decode parses a HeaderSize-byte buffer into a Header and validates its
// magic, version, and checksum.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("format: short header read (%d bytes): %w", len(buf), scdberr.ErrHeaderInvalid)
	}

	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != Magic {
		return nil, fmt.Errorf("format: bad magic %v: %w", magic, scdberr.ErrHeaderInvalid)
	}

	wantSum := checksumFields(buf[:headerChecksumOffset])
	var gotSum [32]byte
	copy(gotSum[:], buf[headerChecksumOffset:headerChecksumOffset+32])
	if wantSum != gotSum {
		return nil, fmt.Errorf("format: header checksum mismatch: %w", scdberr.ErrHeaderInvalid)
	}

	h := &Header{Magic: magic}
	off := 8
	h.Version = ByteOrder.Uint32(buf[off:])
	off += 4
	h.PageSize = ByteOrder.Uint32(buf[off:])
	off += 4
	h.CreatedAt = int64(ByteOrder.Uint64(buf[off:]))
	off += 8
	h.LastModifiedAt = int64(ByteOrder.Uint64(buf[off:]))
	off += 8
	h.LastTxnID = ByteOrder.Uint64(buf[off:])
	off += 8
	h.LastCheckpointLSN = ByteOrder.Uint64(buf[off:])
	off += 8
	h.AllocatedPages = ByteOrder.Uint64(buf[off:])
	off += 8
	h.FragmentationPct = ByteOrder.Uint32(buf[off:])
	off += 4
	h.EncryptionMode = EncryptionMode(buf[off])
	off += 1 + 3
	copy(h.NonceSeed[:], buf[off:off+12])
	off += 12
	h.RegistryRegion, off = getRegion(buf, off)
	h.FSMRegion, off = getRegion(buf, off)
	h.WALRegion, off = getRegion(buf, off)
	h.TableDirRegion, off = getRegion(buf, off)
	h.LastVacuumAt = int64(ByteOrder.Uint64(buf[off:]))
	h.Checksum = gotSum

	if h.Version > CurrentVersion || h.Version < MinSupportedVersion {
		return nil, fmt.Errorf("format: version %d unsupported (known=%d, min=%d): %w",
			h.Version, CurrentVersion, MinSupportedVersion, scdberr.ErrVersionUnsupported)
	}

	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("format: page size %d is not a power of two in [%d,%d]",
			h.PageSize, MinPageSize, MaxPageSize)
	}

	return h, nil
}

// ValidateRegions checks that every region is page-aligned and
// non-overlapping, per the File Header invariants in the data model.
func (h *Header) ValidateRegions() error {
	regions := []RegionDescriptor{h.RegistryRegion, h.FSMRegion, h.WALRegion, h.TableDirRegion}
	for _, r := range regions {
		if r.Offset%uint64(h.PageSize) != 0 {
			return fmt.Errorf("format: region offset %d is not page-aligned", r.Offset)
		}
	}
	for i := range regions {
		for j := range regions {
			if i == j {
				continue
			}
			a, b := regions[i], regions[j]
			if a.Offset < b.Offset+b.Length && b.Offset < a.Offset+a.Length {
				return fmt.Errorf("format: regions overlap: [%d,%d) and [%d,%d)",
					a.Offset, a.Offset+a.Length, b.Offset, b.Offset+b.Length)
			}
		}
	}
	return nil
}

