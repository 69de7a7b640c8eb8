// Package provider implements the Storage Provider: the single façade a
// caller opens one .scdb file through. It composes the file header, block
// registry, free-space map, write-ahead log, table directory, an optional
// block cache, and an optional encryption box behind one I/O gate, so a
// caller never has to reason about their interaction directly.
package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/scdb-go/scdb/internal/cache"
	"github.com/scdb-go/scdb/internal/cryptobox"
	"github.com/scdb-go/scdb/internal/filelock"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/pager"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/tabledir"
	"github.com/scdb-go/scdb/internal/txn"
	"github.com/scdb-go/scdb/internal/walcore"
)

func readRandom(p []byte) (int, error) { return rand.Read(p) }

// Provider is the open handle on one .scdb file. mu is the I/O gate
// (§5 of the concurrency model): every operation that touches both the
// data region and the registry holds it; block_exists, get_metadata, and
// enumerate_blocks are purely in-memory and do not.
type Provider struct {
	mu sync.Mutex

	path   string
	file   *os.File
	logger *slog.Logger
	opts   Options

	header    *format.Header
	space     *fsm.FSM
	reg       *registry.Registry
	wal       *walcore.WAL
	walHandle *iohandle.Handle
	tables    *tabledir.Directory
	pcache    *cache.Cache
	box       *cryptobox.Box
	pages     *pager.Manager

	dataBase   int64
	dataHandle *iohandle.Handle
	pageSize   uint32

	modMu    sync.RWMutex
	modTimes map[string]int64

	activeTxn      *txn.Transaction
	txnRegSnapshot []registry.Entry
	txnFSMSnapshot fsm.Snapshot

	flushCancel context.CancelFunc
	loggerClose func()
	closed      bool
}

// Open opens path, creating it fresh if it does not exist or is empty.
func Open(path string, opts Options) (*Provider, error) {
	opts, loggerClose := opts.withDefaults()
	logger := opts.Logger

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		loggerClose()
		return nil, fmt.Errorf("provider: failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		loggerClose()
		return nil, fmt.Errorf("provider: failed to stat %s: %w", path, err)
	}
	fresh := info.Size() == 0

	if err := filelock.Acquire(f, opts.FileShareMode); err != nil {
		f.Close()
		loggerClose()
		return nil, err
	}

	comp, err := openComponents(f, opts, fresh)
	if err != nil {
		filelock.Release(f, opts.FileShareMode)
		f.Close()
		loggerClose()
		return nil, err
	}

	p := &Provider{
		path:       path,
		file:       f,
		logger:     logger,
		opts:       opts,
		header:     comp.header,
		space:      comp.space,
		reg:        comp.reg,
		wal:        comp.wal,
		walHandle:  comp.walHandle,
		tables:     comp.tables,
		pcache:     newCache(),
		box:        comp.box,
		dataBase:   comp.dataBase,
		dataHandle:  comp.dataHandle,
		pageSize:    comp.pageSize,
		modTimes:    make(map[string]int64),
		loggerClose: loggerClose,
	}
	p.pages = pager.NewManager(p.dataHandle, p.space, p.pageSize, p.pcache)

	if !fresh {
		if err := p.recoverLocked(); err != nil {
			filelock.Release(f, opts.FileShareMode)
			f.Close()
			loggerClose()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.flushCancel = cancel
	p.reg.StartPeriodicFlush(ctx, registry.DefaultFlushInterval)

	p.logger.Info("provider opened", "path", path, "fresh", fresh, "page_size", p.pageSize)
	return p, nil
}

// reopenLocked rehydrates every component from the current on-disk file at
// p.path, for use after Swap installs a vacuum-full rebuild in place. The
// caller holds p.mu and has already closed the previous *os.File.
func (p *Provider) reopenLocked() error {
	f, err := os.OpenFile(p.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("provider: failed to reopen %s: %w", p.path, err)
	}
	if err := filelock.Acquire(f, p.opts.FileShareMode); err != nil {
		f.Close()
		return err
	}

	comp, err := openComponents(f, p.opts, false)
	if err != nil {
		filelock.Release(f, p.opts.FileShareMode)
		f.Close()
		return err
	}

	p.file = f
	p.header = comp.header
	p.space = comp.space
	p.reg = comp.reg
	p.wal = comp.wal
	p.walHandle = comp.walHandle
	p.tables = comp.tables
	p.box = comp.box
	p.dataBase = comp.dataBase
	p.dataHandle = comp.dataHandle
	p.pageSize = comp.pageSize
	p.pages = pager.NewManager(p.dataHandle, p.space, p.pageSize, p.pcache)

	ctx, cancel := context.WithCancel(context.Background())
	p.flushCancel = cancel
	p.reg.StartPeriodicFlush(ctx, registry.DefaultFlushInterval)
	return nil
}

// ensureDataCapacityLocked extends the data region's file window to cover
// the FSM's current total page count, if it has grown since the last call.
func (p *Provider) ensureDataCapacityLocked() error {
	stats := p.space.Statistics()
	needed := int64(stats.TotalPages) * int64(p.pageSize)
	return p.growDataRegionLocked(needed)
}

// pagerProviderPages converts a count of paged-record-layout pages
// (format.PageSize each) into the equivalent count of provider pages
// (p.pageSize each), the unit the free-space map allocates in.
func (p *Provider) pagerProviderPages(pagerPages uint64) uint64 {
	perPager := uint64(format.PageSize) / uint64(p.pageSize)
	if perPager == 0 {
		perPager = 1
	}
	return pagerPages * perPager
}

// ensurePagerHeadroomLocked pre-extends the data region to cover
// pagerPages more paged-record-layout pages before a pager.Manager call
// that allocates and writes them in one step, since there is no hook
// between the free-space map's internal growth and the page write to
// extend the window in between.
func (p *Provider) ensurePagerHeadroomLocked(pagerPages uint64) error {
	stats := p.space.Statistics()
	margin := p.pagerProviderPages(pagerPages)
	needed := int64(stats.TotalPages+margin) * int64(p.pageSize)
	return p.growDataRegionLocked(needed)
}

// pagerOverflowCapacity mirrors pager.Manager's own per-page overflow
// payload capacity, for sizing ensurePagerHeadroomLocked's margin ahead of
// InsertRecord without access to that unexported constant.
func pagerOverflowCapacity() int {
	return format.PageSize - format.PageHeaderSize - format.SlotSize
}

func (p *Provider) growDataRegionLocked(needed int64) error {
	if needed <= p.dataHandle.Length() {
		return nil
	}
	if err := p.file.Truncate(p.dataBase + needed); err != nil {
		return fmt.Errorf("provider: failed to extend data region: %w", err)
	}
	p.dataHandle.Grow(needed)
	return nil
}

// Flush persists the registry, free-space map, and table directory,
// checkpoints the WAL, and rewrites the header.
func (p *Provider) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(time.Now())
}

func (p *Provider) flushLocked(now time.Time) error {
	if err := p.reg.ForceFlush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := p.space.Flush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := p.tables.Flush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if _, err := p.wal.Checkpoint(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	stats := p.space.Statistics()
	p.header.LastModifiedAt = now.Unix()
	p.header.LastCheckpointLSN = p.wal.LastCheckpointLSN()
	p.header.AllocatedPages = stats.TotalPages
	p.header.FragmentationPct = uint32(stats.FragmentationPct)
	if p.activeTxn != nil {
		p.header.LastTxnID = p.activeTxn.TxID
	}

	buf := p.header.Encode()
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("provider: failed to write header: %w", err)
	}
	return p.file.Sync()
}

// Close flushes and releases the underlying file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	if p.flushCancel != nil {
		p.flushCancel()
	}
	p.reg.StopPeriodicFlush()

	flushErr := p.flushLocked(time.Now())
	lockErr := filelock.Release(p.file, p.opts.FileShareMode)
	closeErr := p.file.Close()
	p.closed = true

	p.logger.Info("provider closed", "path", p.path)
	if p.loggerClose != nil {
		p.loggerClose()
	}

	if flushErr != nil {
		return flushErr
	}
	if lockErr != nil {
		return lockErr
	}
	return closeErr
}

// BlockExists is a pure registry lookup; it does not take the I/O gate.
func (p *Provider) BlockExists(name string) bool {
	_, ok := p.reg.Get(name)
	return ok
}

// EnumerateBlocks returns every live block name; it does not take the I/O
// gate.
func (p *Provider) EnumerateBlocks() []string {
	return p.reg.List()
}

// GetMetadata returns descriptive metadata for name without reading its
// bytes; it does not take the I/O gate.
func (p *Provider) GetMetadata(name string) (*Metadata, bool) {
	e, ok := p.reg.Get(name)
	if !ok {
		return nil, false
	}
	p.modMu.RLock()
	mod := p.modTimes[name]
	p.modMu.RUnlock()
	return &Metadata{
		Name:           e.Name,
		Size:           e.Length,
		Offset:         e.Offset,
		Checksum:       e.Checksum,
		Dirty:          e.Flags&format.BlockFlagDirty != 0,
		LastModifiedAt: mod,
	}, true
}

// GetStatistics reports a snapshot of allocation, WAL, and cache counters.
func (p *Provider) GetStatistics() Stats {
	fstats := p.space.Statistics()
	cstats := p.pcache.Statistics()
	return Stats{
		BlockCount:       len(p.reg.List()),
		TotalPages:       fstats.TotalPages,
		FreePages:        fstats.FreePages,
		UsedPages:        fstats.UsedPages,
		FragmentationPct: fstats.FragmentationPct,
		WALRecordCount:   p.wal.Count(),
		CurrentLSN:       p.wal.CurrentLSN(),
		LastCheckpoint:   p.wal.LastCheckpointLSN(),
		CacheHits:        cstats.Hits,
		CacheMisses:      cstats.Misses,
		CacheEvictions:   cstats.Evictions,
	}
}

// AllocatePage, ReadPage, WritePage, FreePage, InsertRecord, and
// ReadFullRecord delegate to the paged record layout for callers that need
// structured rows rather than raw named blocks. They take the I/O gate
// since they touch the data region and the free-space map together.

func (p *Provider) AllocatePage(pageType format.PageType, tableID uint32) (*pager.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensurePagerHeadroomLocked(1); err != nil {
		return nil, err
	}
	return p.pages.AllocatePage(pageType, tableID)
}

func (p *Provider) ReadPage(pageID uint64) (*pager.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages.ReadPage(pageID)
}

func (p *Provider) WritePage(page *pager.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages.WritePage(page)
}

func (p *Provider) FreePage(pageID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages.FreePage(pageID)
}

func (p *Provider) InsertRecord(tableID uint32, data []byte, lsn uint64) (uint64, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pagerPages := uint64(1)
	capacity := pagerOverflowCapacity()
	if len(data) > capacity {
		rest := len(data) - capacity
		pagerPages += uint64((rest + capacity - 1) / capacity)
	}
	if err := p.ensurePagerHeadroomLocked(pagerPages); err != nil {
		return 0, 0, err
	}

	return p.pages.InsertRecord(tableID, data, lsn)
}

func (p *Provider) ReadFullRecord(pageID uint64, slotID int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages.ReadFullRecord(pageID, slotID)
}

// ReadBlockBytes and WriteBlockBytes satisfy vacuum.BlockIO, operating
// directly against the data region; the caller (Vacuum) already holds the
// I/O gate.
func (p *Provider) ReadBlockBytes(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := p.dataHandle.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	return buf, nil
}

func (p *Provider) WriteBlockBytes(offset uint64, data []byte) error {
	if _, err := p.dataHandle.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	return p.dataHandle.Sync()
}
