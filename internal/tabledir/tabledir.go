// Package tabledir implements the table directory: a persisted catalog of
// logical tables (id, name, schema blob reference, flags), kept in memory
// like the block registry (internal/registry) and written back only when
// Flush is called; it has no background flusher of its own.
package tabledir

import (
	"fmt"
	"sync"
	"time"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// Table is one in-memory table descriptor. The schema block is opaque to
// this package: schema payload is bytes owned by a higher layer.
type Table struct {
	ID                uint32
	Name              string
	SchemaBlockOffset uint64
	SchemaBlockLength uint64
	Dropped           bool
}

// Directory is the table directory: a dense array of Table descriptors,
// addressable by id or name, flushed as one unit.
type Directory struct {
	mu      sync.RWMutex
	byID    map[uint32]*Table
	byName  map[string]*Table
	order   []uint32
	handle  *iohandle.Handle
	dirty   bool
}

func regionCapacity(handleLen int64) int {
	usable := handleLen - format.RegionHeaderSize
	if usable < 0 {
		return 0
	}
	return int(usable / format.TableEntrySize)
}

// New initializes a fresh, empty table directory over handle.
func New(handle *iohandle.Handle) *Directory {
	return &Directory{
		byID:   make(map[uint32]*Table),
		byName: make(map[string]*Table),
		handle: handle,
	}
}

// Open rehydrates a table directory from its persisted region.
func Open(handle *iohandle.Handle) (*Directory, error) {
	d := New(handle)

	hdrBuf := make([]byte, format.RegionHeaderSize)
	if _, err := handle.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("tabledir: failed to read header: %w", err)
	}
	hdr, err := format.DecodeRegionHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("tabledir: %w", err)
	}
	if hdr.Magic != format.TableDirMagic {
		return nil, fmt.Errorf("tabledir: bad magic: %w", scdberr.ErrHeaderInvalid)
	}

	for i := uint32(0); i < hdr.Count; i++ {
		off := int64(format.RegionHeaderSize) + int64(i)*format.TableEntrySize
		buf := make([]byte, format.TableEntrySize)
		if _, err := handle.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("tabledir: failed to read entry %d: %w", i, err)
		}
		te, err := format.DecodeTableEntry(buf)
		if err != nil {
			return nil, fmt.Errorf("tabledir: %w", err)
		}
		t := &Table{
			ID:                te.TableID,
			Name:              string(te.InlineName[:te.NameLen]),
			SchemaBlockOffset: te.SchemaBlockOffset,
			SchemaBlockLength: te.SchemaBlockLength,
			Dropped:           te.Flags&format.TableFlagDropped != 0,
		}
		d.byID[t.ID] = t
		d.byName[t.Name] = t
		d.order = append(d.order, t.ID)
	}

	return d, nil
}

// Add registers a new table. The id must be unique.
func (d *Directory) Add(t Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byID[t.ID]; exists {
		return fmt.Errorf("tabledir: table id %d already registered", t.ID)
	}
	if regionCapacity(d.handle.Length()) > 0 && len(d.order) >= regionCapacity(d.handle.Length()) {
		return fmt.Errorf("tabledir: %w", scdberr.ErrRegistryOverflow)
	}

	tc := t
	d.byID[t.ID] = &tc
	d.byName[t.Name] = &tc
	d.order = append(d.order, t.ID)
	d.dirty = true
	return nil
}

// Remove marks a table as dropped. Dropping flips a flag and leaves the
// slot in place; nothing in this package reclaims dropped slots.
func (d *Directory) Remove(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[id]
	if !ok {
		return
	}
	t.Dropped = true
	d.dirty = true
}

// Get returns a table by id.
func (d *Directory) Get(id uint32) (Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok || t.Dropped {
		return Table{}, false
	}
	return *t, true
}

// GetByName returns a table by name.
func (d *Directory) GetByName(name string) (Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byName[name]
	if !ok || t.Dropped {
		return Table{}, false
	}
	return *t, true
}

// Enumerate returns all live (non-dropped) tables.
func (d *Directory) Enumerate() []Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Table, 0, len(d.order))
	for _, id := range d.order {
		if t := d.byID[id]; !t.Dropped {
			out = append(out, *t)
		}
	}
	return out
}

// Flush serializes the full directory and writes it at the region's offset,
// fsyncing afterward.
func (d *Directory) Flush(now time.Time) error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	ids := make([]uint32, len(d.order))
	copy(ids, d.order)
	tables := make([]Table, 0, len(ids))
	for _, id := range ids {
		tables = append(tables, *d.byID[id])
	}
	d.mu.Unlock()

	buf := make([]byte, format.RegionHeaderSize+len(tables)*format.TableEntrySize)
	hdr := format.RegionHeader{
		Magic:          format.TableDirMagic,
		Version:        1,
		Count:          uint32(len(tables)),
		LastModifiedAt: now.Unix(),
	}
	copy(buf[:format.RegionHeaderSize], format.EncodeRegionHeader(hdr))

	for i, t := range tables {
		name, nameLen := format.InlinedName(t.Name)
		var flags format.TableFlag
		if t.Dropped {
			flags |= format.TableFlagDropped
		}
		te := format.TableEntry{
			TableID:           t.ID,
			Flags:             flags,
			SchemaBlockOffset: t.SchemaBlockOffset,
			SchemaBlockLength: t.SchemaBlockLength,
			InlineName:        name,
			NameLen:           nameLen,
		}
		off := format.RegionHeaderSize + i*format.TableEntrySize
		copy(buf[off:off+format.TableEntrySize], format.EncodeTableEntry(te))
	}

	if _, err := d.handle.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("tabledir: failed to write region: %w", err)
	}
	if err := d.handle.Sync(); err != nil {
		return fmt.Errorf("tabledir: fsync failed: %w", err)
	}

	d.mu.Lock()
	d.dirty = false
	d.mu.Unlock()
	return nil
}

// Dirty reports whether the directory has unflushed changes.
func (d *Directory) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}
