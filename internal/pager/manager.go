package pager

import (
	"fmt"

	"github.com/scdb-go/scdb/internal/cache"
	"github.com/scdb-go/scdb/internal/format"
)

// PageIO is the raw byte-range I/O a Manager needs; satisfied by
// iohandle.Handle or directly by *os.File.
type PageIO interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Allocator is the page-allocation surface a Manager needs from the
// free-space map (internal/fsm.FSM satisfies this).
type Allocator interface {
	AllocatePages(n uint64) (uint64, error)
	FreePages(offset uint64, n uint64) error
}

// Manager ties the paged record layout to page storage, allocation, and an
// optional cache: it is the component higher layers (row storage) use
// instead of touching Page directly.
type Manager struct {
	io               PageIO
	alloc            Allocator
	cache            *cache.Cache
	providerPageSize uint32
	pagesPerPagerPage uint64
}

// NewManager constructs a Manager. providerPageSize is the FSM's
// configurable page granularity; pagerCache may be nil to disable caching.
func NewManager(io PageIO, alloc Allocator, providerPageSize uint32, pagerCache *cache.Cache) *Manager {
	pagesPer := uint64(format.PageSize) / uint64(providerPageSize)
	if pagesPer == 0 {
		pagesPer = 1
	}
	return &Manager{io: io, alloc: alloc, cache: pagerCache, providerPageSize: providerPageSize, pagesPerPagerPage: pagesPer}
}

func (m *Manager) pageOffset(pageID uint64) int64 { return int64(pageID) * format.PageSize }

// AllocatePage allocates and initializes a fresh page of the given type.
func (m *Manager) AllocatePage(pageType format.PageType, tableID uint32) (*Page, error) {
	offset, err := m.alloc.AllocatePages(m.pagesPerPagerPage)
	if err != nil {
		return nil, fmt.Errorf("pager: failed to allocate page: %w", err)
	}
	pageID := uint64(offset) / format.PageSize
	p := New(pageID, pageType, tableID)
	if err := m.WritePage(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadPage loads a page, consulting the cache first.
func (m *Manager) ReadPage(pageID uint64) (*Page, error) {
	if m.cache != nil {
		if cp, ok := m.cache.Get(pageID); ok {
			return Load(cp.Data)
		}
	}

	buf := make([]byte, format.PageSize)
	if _, err := m.io.ReadAt(buf, m.pageOffset(pageID)); err != nil {
		return nil, fmt.Errorf("pager: failed to read page %d: %w", pageID, err)
	}
	p, err := Load(buf)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Put(cache.Page{ID: pageID, Data: buf})
	}
	return p, nil
}

// WritePage serializes and writes a page, then refreshes the cache.
func (m *Manager) WritePage(p *Page) error {
	buf := p.Bytes()
	if _, err := m.io.WriteAt(buf, m.pageOffset(p.PageID())); err != nil {
		return fmt.Errorf("pager: failed to write page %d: %w", p.PageID(), err)
	}
	if m.cache != nil {
		m.cache.Put(cache.Page{ID: p.PageID(), Data: append([]byte(nil), buf...)})
	}
	return nil
}

// FreePage releases a page's storage back to the allocator.
func (m *Manager) FreePage(pageID uint64) error {
	if err := m.alloc.FreePages(pageID*format.PageSize, m.pagesPerPagerPage); err != nil {
		return fmt.Errorf("pager: failed to free page %d: %w", pageID, err)
	}
	if m.cache != nil {
		m.cache.Remove(pageID)
	}
	return nil
}

// overflowCapacity is how many payload bytes one overflow page can hold: a
// full page minus its own header and slot array (one slot).
func (m *Manager) overflowCapacity() int {
	return format.PageSize - format.PageHeaderSize - format.SlotSize
}

// InsertRecord inserts data into a fresh primary page (allocated by this
// call), spilling into an overflow chain if data does not fit in one page.
func (m *Manager) InsertRecord(tableID uint32, data []byte, lsn uint64) (primaryPageID uint64, slotID int, err error) {
	primary, err := m.AllocatePage(format.PageTypePrimary, tableID)
	if err != nil {
		return 0, 0, err
	}

	head := data
	var rest []byte
	if len(data) > m.overflowCapacity() {
		head = data[:m.overflowCapacity()]
		rest = data[m.overflowCapacity():]
	}

	sid, ok := primary.InsertRecord(head, lsn)
	if !ok {
		return 0, 0, fmt.Errorf("pager: fresh page cannot even hold the head fragment (%d bytes)", len(head))
	}

	if len(rest) > 0 {
		primary.MarkOverflow(sid, true)
		if err := m.writeOverflowChain(primary, rest, lsn); err != nil {
			return 0, 0, err
		}
	}

	if err := m.WritePage(primary); err != nil {
		return 0, 0, err
	}
	return primary.PageID(), sid, nil
}

// writeOverflowChain links one or more overflow pages off of head, each
// holding up to overflowCapacity() bytes, until rest is exhausted.
func (m *Manager) writeOverflowChain(head *Page, rest []byte, lsn uint64) error {
	prev := head
	capacity := m.overflowCapacity()
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > capacity {
			chunk = rest[:capacity]
		}
		rest = rest[len(chunk):]

		overflow, err := m.AllocatePage(format.PageTypeOverflow, 0)
		if err != nil {
			return err
		}
		if _, ok := overflow.InsertRecord(chunk, lsn); !ok {
			return fmt.Errorf("pager: overflow page cannot hold %d-byte chunk", len(chunk))
		}
		prev.SetNextPageID(overflow.PageID())
		if err := m.WritePage(prev); err != nil {
			return err
		}
		prev = overflow
	}
	return m.WritePage(prev)
}

// ReadFullRecord reads slotID from pageID, following the overflow chain (if
// any) and concatenating every fragment in link order.
func (m *Manager) ReadFullRecord(pageID uint64, slotID int) ([]byte, error) {
	page, err := m.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	head, ok := page.ReadRecord(slotID)
	if !ok {
		return nil, fmt.Errorf("pager: slot %d on page %d is not live", slotID, pageID)
	}
	if !page.HasOverflow(slotID) {
		return head, nil
	}

	out := append([]byte(nil), head...)
	next := page.NextPageID()
	for next != format.NoPageID() {
		op, err := m.ReadPage(next)
		if err != nil {
			return nil, err
		}
		chunk, ok := op.ReadRecord(0)
		if !ok {
			return nil, fmt.Errorf("pager: overflow page %d has no live record", next)
		}
		out = append(out, chunk...)
		next = op.NextPageID()
	}
	return out, nil
}
