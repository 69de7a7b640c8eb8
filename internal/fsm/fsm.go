// Package fsm implements the free-space map: a two-level page allocator
// giving O(1)/O(log n) page and extent allocation with coalescing,
// pre-allocating in exponentially growing chunks to bound file-extension
// cost. A dirty-on-mutation flag defers flushing to disk rather than
// flushing on every call; the on-disk layout is a header followed by the
// bitmap and extent records.
package fsm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/scdberr"
)

// Tuning constants for the allocate_pages algorithm.
const (
	// CoalesceThresholdPages is the minimum run length tracked as an L2
	// extent; shorter runs live only in the L1 bitmap.
	CoalesceThresholdPages = 16

	// MinExtensionPages bounds how small a single file growth can be.
	MinExtensionPages = 256

	// GrowthDivisor: a growth step is current_pages / GrowthDivisor, so the
	// file roughly doubles every GrowthDivisor extensions.
	GrowthDivisor = 8
)

// Extent is a run of contiguous free pages.
type Extent struct {
	StartPage uint64
	PageCount uint64
}

// Stats is the return shape of Statistics().
type Stats struct {
	TotalPages      uint64
	FreePages       uint64
	UsedPages       uint64
	LargestExtent   uint64
	ExtentCount     int
	FragmentationPct float64
}

// FSM is the free-space map: an L1 bit-per-page bitmap plus an L2 list of
// large free extents, both protected by one lock — allocation and free
// both touch the bitmap and the extent list together, so they share a
// single critical section rather than two separate locks.
type FSM struct {
	mu sync.Mutex

	handle   *iohandle.Handle
	pageSize uint32

	// regionCap is the handle's length at construction time: the physical
	// capacity reserved for this region in the file layout. The region
	// cannot grow past it without colliding with whatever region follows,
	// so flushLocked enforces it instead of calling handle.Grow.
	regionCap int64

	hdr     format.FSMHeader
	bitmap  []byte // ceil(TotalPages/8) bytes, 1 = allocated, 0 = free
	extents []format.ExtentRecord

	dirty bool
}

// RegionSize returns the number of bytes an FSM region occupies for a given
// page count and extent capacity, for callers sizing the region at file
// creation time.
func RegionSize(totalPages uint64, extentCap uint32) int64 {
	return regionSize(totalPages, extentCap)
}

func bitmapBytes(totalPages uint64) uint64 {
	return (totalPages + 7) / 8
}

// regionSize returns the number of bytes the FSM region occupies for a
// given page count and extent capacity.
func regionSize(totalPages uint64, extentCap uint32) int64 {
	return int64(format.FSMHeaderSize) + int64(bitmapBytes(totalPages)) + int64(extentCap)*format.ExtentRecordSize
}

// New initializes a fresh FSM region covering initialPages, all free.
func New(handle *iohandle.Handle, pageSize uint32, initialPages uint64, now time.Time) (*FSM, error) {
	f := &FSM{
		handle:    handle,
		pageSize:  pageSize,
		regionCap: handle.Length(),
		hdr: format.FSMHeader{
			Magic:       format.FSMMagic,
			Version:     1,
			TotalPages:  initialPages,
			L2Count:     0,
			LastFlushAt: now.Unix(),
		},
		bitmap: make([]byte, bitmapBytes(initialPages)),
	}
	if initialPages > 0 {
		f.extents = []format.ExtentRecord{{StartPage: 0, PageCount: initialPages}}
		f.hdr.L2Count = 1
	}
	if err := f.flushLocked(); err != nil {
		return nil, fmt.Errorf("fsm: failed to initialize region: %w", err)
	}
	return f, nil
}

// Open rehydrates an FSM from its persisted region.
func Open(handle *iohandle.Handle, pageSize uint32) (*FSM, error) {
	hdrBuf := make([]byte, format.FSMHeaderSize)
	if _, err := handle.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("fsm: failed to read header: %w", err)
	}
	hdr, err := format.DecodeFSMHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("fsm: %w", err)
	}
	if hdr.Magic != format.FSMMagic {
		return nil, fmt.Errorf("fsm: bad magic: %w", scdberr.ErrHeaderInvalid)
	}

	f := &FSM{handle: handle, pageSize: pageSize, regionCap: handle.Length(), hdr: hdr}

	bmLen := bitmapBytes(hdr.TotalPages)
	f.bitmap = make([]byte, bmLen)
	if bmLen > 0 {
		if _, err := handle.ReadAt(f.bitmap, int64(format.FSMHeaderSize)); err != nil {
			return nil, fmt.Errorf("fsm: failed to read bitmap: %w", err)
		}
	}

	extOff := int64(format.FSMHeaderSize) + int64(bmLen)
	f.extents = make([]format.ExtentRecord, hdr.L2Count)
	for i := uint32(0); i < hdr.L2Count; i++ {
		buf := make([]byte, format.ExtentRecordSize)
		if _, err := handle.ReadAt(buf, extOff+int64(i)*format.ExtentRecordSize); err != nil {
			return nil, fmt.Errorf("fsm: failed to read extent %d: %w", i, err)
		}
		f.extents[i] = format.DecodeExtentRecord(buf)
	}

	return f, nil
}

func (f *FSM) bitAllocated(page uint64) bool {
	return f.bitmap[page/8]&(1<<(page%8)) != 0
}

func (f *FSM) setBit(page uint64, allocated bool) {
	if allocated {
		f.bitmap[page/8] |= 1 << (page % 8)
	} else {
		f.bitmap[page/8] &^= 1 << (page % 8)
	}
}

// freePagesLocked returns the total count of zero bits across TotalPages.
func (f *FSM) freePagesLocked() uint64 {
	var free uint64
	for p := uint64(0); p < f.hdr.TotalPages; p++ {
		if !f.bitAllocated(p) {
			free++
		}
	}
	return free
}

// bestFitExtentLocked returns the index of the smallest L2 extent with
// PageCount >= n, or -1 if none fits.
func (f *FSM) bestFitExtentLocked(n uint64) int {
	best := -1
	for i, e := range f.extents {
		if e.PageCount >= n {
			if best == -1 || e.PageCount < f.extents[best].PageCount {
				best = i
			}
		}
	}
	return best
}

// scanContiguousLocked looks for n consecutive free bits anywhere under
// TotalPages, first-fit.
func (f *FSM) scanContiguousLocked(n uint64) (uint64, bool) {
	var run uint64
	var start uint64
	for p := uint64(0); p < f.hdr.TotalPages; p++ {
		if !f.bitAllocated(p) {
			if run == 0 {
				start = p
			}
			run++
			if run == n {
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// growLocked extends TotalPages using max(MinExtensionPages, max(n,
// current/GrowthDivisor)) pages and zero-fills the new bitmap tail,
// recording the surplus as a free L2 extent.
func (f *FSM) growLocked(n uint64) {
	step := f.hdr.TotalPages / GrowthDivisor
	if step < n {
		step = n
	}
	if step < MinExtensionPages {
		step = MinExtensionPages
	}

	oldTotal := f.hdr.TotalPages
	newTotal := oldTotal + step
	newBitmapLen := bitmapBytes(newTotal)
	grown := make([]byte, newBitmapLen)
	copy(grown, f.bitmap)
	f.bitmap = grown
	f.hdr.TotalPages = newTotal

	f.addFreeExtentLocked(Extent{StartPage: oldTotal, PageCount: step})
	f.dirty = true
}

// addFreeExtentLocked inserts a free run into L2, merging with any
// numerically adjacent extents so L2 never fragments unboundedly.
func (f *FSM) addFreeExtentLocked(e Extent) {
	if e.PageCount < CoalesceThresholdPages {
		return
	}
	merged := format.ExtentRecord{StartPage: e.StartPage, PageCount: e.PageCount}
	out := f.extents[:0]
	for _, ex := range f.extents {
		if ex.StartPage+ex.PageCount == merged.StartPage {
			merged.StartPage = ex.StartPage
			merged.PageCount += ex.PageCount
			continue
		}
		if merged.StartPage+merged.PageCount == ex.StartPage {
			merged.PageCount += ex.PageCount
			continue
		}
		out = append(out, ex)
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].StartPage < out[j].StartPage })
	f.extents = out
	f.hdr.L2Count = uint32(len(f.extents))
}

// removeExtentRangeLocked removes [start, start+n) from whichever L2 extent
// currently contains it, splitting that extent if the allocation is a
// sub-range.
func (f *FSM) removeExtentRangeLocked(start, n uint64) {
	for i, ex := range f.extents {
		if start < ex.StartPage || start+n > ex.StartPage+ex.PageCount {
			continue
		}
		var replacement []format.ExtentRecord
		if head := start - ex.StartPage; head > 0 {
			replacement = append(replacement, format.ExtentRecord{StartPage: ex.StartPage, PageCount: head})
		}
		if tail := (ex.StartPage + ex.PageCount) - (start + n); tail > 0 {
			replacement = append(replacement, format.ExtentRecord{StartPage: start + n, PageCount: tail})
		}
		f.extents = append(f.extents[:i], append(replacement, f.extents[i+1:]...)...)
		f.hdr.L2Count = uint32(len(f.extents))
		return
	}
}

// AllocatePages allocates n contiguous pages: best-fit extent, else
// first-fit bitmap scan, else grow the file.
func (f *FSM) AllocatePages(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("fsm: cannot allocate zero pages")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if idx := f.bestFitExtentLocked(n); idx != -1 {
		start := f.extents[idx].StartPage
		f.removeExtentRangeLocked(start, n)
		for p := start; p < start+n; p++ {
			f.setBit(p, true)
		}
		f.dirty = true
		return start * uint64(f.pageSize), nil
	}

	if start, ok := f.scanContiguousLocked(n); ok {
		for p := start; p < start+n; p++ {
			f.setBit(p, true)
		}
		f.dirty = true
		return start * uint64(f.pageSize), nil
	}

	oldTotal := f.hdr.TotalPages
	f.growLocked(n)
	start := oldTotal
	for p := start; p < start+n; p++ {
		f.setBit(p, true)
	}
	f.removeExtentRangeLocked(start, n)
	f.dirty = true
	return start * uint64(f.pageSize), nil
}

// FreePages implements free_pages(offset, n): clear the bitmap range and, if
// the run is large enough, register it in L2 for coalescing.
func (f *FSM) FreePages(byteOffset uint64, n uint64) error {
	if f.pageSize == 0 {
		return fmt.Errorf("fsm: page size not set")
	}
	if byteOffset%uint64(f.pageSize) != 0 {
		return fmt.Errorf("fsm: offset %d is not page-aligned", byteOffset)
	}
	start := byteOffset / uint64(f.pageSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	if start+n > f.hdr.TotalPages {
		return fmt.Errorf("fsm: free range [%d,%d) exceeds %d total pages", start, start+n, f.hdr.TotalPages)
	}
	for p := start; p < start+n; p++ {
		f.setBit(p, false)
	}
	f.addFreeExtentLocked(Extent{StartPage: start, PageCount: n})
	f.dirty = true
	return nil
}

// BestAvailableOffset peeks at the page index AllocatePages(n) would
// currently choose, without mutating any state. Incremental vacuum uses
// this to decide whether a block sits at a sub-optimal offset worth
// relocating.
func (f *FSM) BestAvailableOffset(n uint64) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idx := f.bestFitExtentLocked(n); idx != -1 {
		return f.extents[idx].StartPage, true
	}
	return f.scanContiguousLocked(n)
}

// AllocateExtent is the extent-level variant of AllocatePages.
func (f *FSM) AllocateExtent(n uint64) (Extent, error) {
	offset, err := f.AllocatePages(n)
	if err != nil {
		return Extent{}, err
	}
	return Extent{StartPage: offset / uint64(f.pageSize), PageCount: n}, nil
}

// FreeExtent is the extent-level variant of FreePages.
func (f *FSM) FreeExtent(e Extent) error {
	return f.FreePages(e.StartPage*uint64(f.pageSize), e.PageCount)
}

// Statistics reports current allocation and fragmentation metrics.
func (f *FSM) Statistics() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	free := f.freePagesLocked()
	var largest uint64
	for _, e := range f.extents {
		if e.PageCount > largest {
			largest = e.PageCount
		}
	}

	frag := 0.0
	if free > 0 {
		frag = (1 - float64(largest)/float64(free)) * 100
		if frag < 0 {
			frag = 0
		}
		if frag > 100 {
			frag = 100
		}
	}

	return Stats{
		TotalPages:       f.hdr.TotalPages,
		FreePages:        free,
		UsedPages:        f.hdr.TotalPages - free,
		LargestExtent:    largest,
		ExtentCount:      len(f.extents),
		FragmentationPct: frag,
	}
}

// ensureCapacityLocked grows TotalPages and the bitmap to cover at least
// minPages, without touching the growth-factor heuristic in growLocked
// (recovery needs an exact target, not a speculative over-allocation).
func (f *FSM) ensureCapacityLocked(minPages uint64) {
	if minPages <= f.hdr.TotalPages {
		return
	}
	grown := make([]byte, bitmapBytes(minPages))
	copy(grown, f.bitmap)
	f.bitmap = grown
	f.hdr.TotalPages = minPages
}

// MarkAllocated force-sets [offset, offset+n pages) as allocated, growing
// the map if necessary. Idempotent: used by crash recovery to reconcile the
// map against a redone write without regard to whatever the map's
// on-disk-before-redo state was.
func (f *FSM) MarkAllocated(byteOffset uint64, n uint64) error {
	if f.pageSize == 0 {
		return fmt.Errorf("fsm: page size not set")
	}
	if byteOffset%uint64(f.pageSize) != 0 {
		return fmt.Errorf("fsm: offset %d is not page-aligned", byteOffset)
	}
	start := byteOffset / uint64(f.pageSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ensureCapacityLocked(start + n)
	f.removeExtentRangeLocked(start, n)
	for p := start; p < start+n; p++ {
		f.setBit(p, true)
	}
	f.dirty = true
	return nil
}

// Snapshot is a point-in-time copy of the map's full state, used to make
// transaction rollback exact without reasoning about whether pages freed
// and re-allocated within the same transaction are safe to individually
// undo.
type Snapshot struct {
	hdr     format.FSMHeader
	bitmap  []byte
	extents []format.ExtentRecord
}

// TakeSnapshot copies the current map state.
func (f *FSM) TakeSnapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		hdr:     f.hdr,
		bitmap:  append([]byte(nil), f.bitmap...),
		extents: append([]format.ExtentRecord(nil), f.extents...),
	}
}

// RestoreSnapshot replaces the map's state wholesale with a prior snapshot.
func (f *FSM) RestoreSnapshot(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdr = s.hdr
	f.bitmap = append([]byte(nil), s.bitmap...)
	f.extents = append([]format.ExtentRecord(nil), s.extents...)
	f.dirty = true
}

// Flush persists the header, bitmap, and extent list if anything changed
// since the last flush.
func (f *FSM) Flush(now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	f.hdr.LastFlushAt = now.Unix()
	if err := f.flushLocked(); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (f *FSM) flushLocked() error {
	need := regionSize(f.hdr.TotalPages, f.hdr.L2Count)
	if need > f.regionCap {
		return fmt.Errorf("fsm: region needs %d bytes, capacity is %d: %w", need, f.regionCap, scdberr.ErrFSMOverflow)
	}

	hdrBuf := format.EncodeFSMHeader(f.hdr)
	if _, err := f.handle.WriteAt(hdrBuf, 0); err != nil {
		return fmt.Errorf("fsm: failed to write header: %w", err)
	}

	if len(f.bitmap) > 0 {
		if _, err := f.handle.WriteAt(f.bitmap, int64(format.FSMHeaderSize)); err != nil {
			return fmt.Errorf("fsm: failed to write bitmap: %w", err)
		}
	}

	extOff := int64(format.FSMHeaderSize) + int64(len(f.bitmap))
	for i, e := range f.extents {
		buf := format.EncodeExtentRecord(e)
		if _, err := f.handle.WriteAt(buf, extOff+int64(i)*format.ExtentRecordSize); err != nil {
			return fmt.Errorf("fsm: failed to write extent %d: %w", i, err)
		}
	}

	return nil
}
