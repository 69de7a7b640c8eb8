// Package registry implements the block registry: a
// name -> {offset, length, type, flags, checksum} mapping kept as an
// in-memory hash plus a periodically-flushed dense on-disk array.
//
// The in-memory map is guarded by a mutex with a separate dirty flag, and
// the background flusher logs and continues rather than panicking on a
// flush error; the on-disk array uses a header-then-fixed-records layout.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// DefaultFlushInterval is how often the background flusher runs, giving
// batched, time-bounded flushes instead of a flush per write.
const DefaultFlushInterval = 500 * time.Millisecond

// Entry is one block registry record, keyed by its full (possibly long)
// name in memory; only the first format.MaxInlineName bytes persist inline
// on disk.
type Entry struct {
	Name     string
	Type     format.BlockType
	Offset   uint64
	Length   uint64
	Flags    format.BlockFlag
	Checksum [32]byte
}

// Registry is the block registry: a concurrent map of live entries plus a
// single background task that serializes and flushes it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string // insertion order, for a stable dense on-disk array

	handle *iohandle.Handle
	logger *slog.Logger

	dirty      bool
	batchDepth int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func regionCapacity(handleLen int64) int {
	usable := handleLen - format.RegionHeaderSize
	if usable < 0 {
		return 0
	}
	return int(usable / format.BlockEntrySize)
}

// New initializes a fresh, empty registry over handle.
func New(handle *iohandle.Handle, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		handle:  handle,
		logger:  logger,
	}
}

// Open rehydrates a registry from its persisted region.
func Open(handle *iohandle.Handle, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{entries: make(map[string]Entry), handle: handle, logger: logger}

	hdrBuf := make([]byte, format.RegionHeaderSize)
	if _, err := handle.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("registry: failed to read header: %w", err)
	}
	hdr, err := format.DecodeRegionHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if hdr.Magic != format.RegistryMagic {
		return nil, fmt.Errorf("registry: bad magic: %w", scdberr.ErrHeaderInvalid)
	}

	for i := uint32(0); i < hdr.Count; i++ {
		off := int64(format.RegionHeaderSize) + int64(i)*format.BlockEntrySize
		buf := make([]byte, format.BlockEntrySize)
		if _, err := handle.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("registry: failed to read entry %d: %w", i, err)
		}
		be, err := format.DecodeBlockEntry(buf)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		name := string(be.InlineName[:be.NameLen])
		e := Entry{Name: name, Type: be.Type, Offset: be.Offset, Length: be.Length, Flags: be.Flags, Checksum: be.Checksum}
		r.entries[name] = e
		r.order = append(r.order, name)
	}

	return r, nil
}

// Get returns the live entry for name, if any.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Put inserts or replaces the entry for name and marks the registry dirty.
// An entry whose in-memory state has not yet reached disk is represented
// by the same Entry value with the registry's dirty flag set — there is
// no separate "pending" variant.
func (r *Registry) Put(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.Name]; !exists {
		if regionCapacity(r.handle.Length()) > 0 && len(r.order) >= regionCapacity(r.handle.Length()) {
			return fmt.Errorf("registry: %w", scdberr.ErrRegistryOverflow)
		}
		r.order = append(r.order, e.Name)
	}
	r.entries[e.Name] = e
	r.dirty = true
	return nil
}

// Delete removes name from the registry.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.dirty = true
}

// List returns all live block names in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BeginBatch and EndBatch let callers group several Put/Delete calls; the
// registry is only force-flushed once the outermost batch ends, bounding
// how often a bulk load pays the serialize-and-write cost.
func (r *Registry) BeginBatch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchDepth++
}

// EndBatch closes one batch level, flushing if this was the outermost one
// and the registry is dirty.
func (r *Registry) EndBatch(now time.Time) error {
	r.mu.Lock()
	if r.batchDepth > 0 {
		r.batchDepth--
	}
	flush := r.batchDepth == 0 && r.dirty
	r.mu.Unlock()

	if flush {
		return r.ForceFlush(now)
	}
	return nil
}

// ForceFlush snapshots entries under a private lock, serializes
// [RegionHeader | BlockEntry x n] into a buffer, and writes it at the
// registry region's offset; the file write and fsync happen outside the
// lock so a slow disk never blocks concurrent Get/Put calls.
func (r *Registry) ForceFlush(now time.Time) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, r.entries[n])
	}
	r.mu.Unlock()

	capacity := regionCapacity(r.handle.Length())
	if capacity > 0 && len(entries) > capacity {
		return fmt.Errorf("registry: %w", scdberr.ErrRegistryOverflow)
	}

	buf := make([]byte, format.RegionHeaderSize+len(entries)*format.BlockEntrySize)
	hdr := format.RegionHeader{
		Magic:          format.RegistryMagic,
		Version:        1,
		Count:          uint32(len(entries)),
		TotalBytes:     0,
		LastModifiedAt: now.Unix(),
	}
	for _, e := range entries {
		hdr.TotalBytes += e.Length
	}
	copy(buf[:format.RegionHeaderSize], format.EncodeRegionHeader(hdr))

	for i, e := range entries {
		name, nameLen := format.InlinedName(e.Name)
		be := format.BlockEntry{
			Type:       e.Type,
			Offset:     e.Offset,
			Length:     e.Length,
			Flags:      e.Flags,
			Checksum:   e.Checksum,
			InlineName: name,
			NameLen:    nameLen,
		}
		off := format.RegionHeaderSize + i*format.BlockEntrySize
		copy(buf[off:off+format.BlockEntrySize], format.EncodeBlockEntry(be))
	}

	if _, err := r.handle.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("registry: failed to write region: %w", err)
	}
	if err := r.handle.Sync(); err != nil {
		return fmt.Errorf("registry: fsync failed: %w", err)
	}

	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()
	return nil
}

// StartPeriodicFlush launches the background flusher. Flush failures are
// logged and the loop continues rather than tearing down the registry.
func (r *Registry) StartPeriodicFlush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.ForceFlush(time.Now()); err != nil {
					r.logger.Error("registry periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// StopPeriodicFlush signals the background flusher to exit and waits for it.
func (r *Registry) StopPeriodicFlush() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.stopCh = nil
}

// TakeSnapshot copies every live entry in insertion order, for callers that
// need to restore the whole registry wholesale (transaction rollback)
// rather than undo individual Put/Delete calls.
func (r *Registry) TakeSnapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n])
	}
	return out
}

// RestoreSnapshot replaces the registry's entire entry set with snapshot,
// marking it dirty so the next flush reflects the restored state.
func (r *Registry) RestoreSnapshot(snapshot []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry, len(snapshot))
	r.order = make([]string, 0, len(snapshot))
	for _, e := range snapshot {
		r.entries[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	r.dirty = true
}

// Dirty reports whether any entry has changed since the last ForceFlush.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// sortedNames is exposed for tests asserting on deterministic iteration.
func (r *Registry) sortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
