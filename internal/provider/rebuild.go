package provider

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/scdb-go/scdb/internal/filelock"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/tabledir"
	"github.com/scdb-go/scdb/internal/vacuum"
	"github.com/scdb-go/scdb/internal/walcore"
)

// Vacuum runs one reclamation pass in the requested mode, holding the I/O
// gate for its duration.
func (p *Provider) Vacuum(mode vacuum.Mode) (vacuum.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var report vacuum.Report
	var err error

	switch mode {
	case vacuum.ModeQuick:
		report, err = vacuum.Quick(p.wal, p.space, now)
	case vacuum.ModeIncremental:
		report, err = vacuum.Incremental(p.reg, p.space, p, p.pageSize, now)
	case vacuum.ModeFull:
		before := p.space.Statistics()
		tempPath := p.path + ".vacuum.tmp"
		report, err = vacuum.Full(p, tempPath, before, now)
	default:
		return vacuum.Report{}, fmt.Errorf("provider: unknown vacuum mode %v", mode)
	}

	if err == nil {
		p.header.LastVacuumAt = now.Unix()
	}
	return report, err
}

// Rebuild satisfies vacuum.FullRebuilder: it writes a complete, fsynced,
// valid .scdb file at tempPath containing every currently live block in
// sorted-name order, with fresh, tightly-packed regions.
func (p *Provider) Rebuild(tempPath string) error {
	names := p.reg.List()
	sort.Strings(names)

	now := time.Now()
	regions, dataBase := freshRegions(p.pageSize, p.opts.WALBufferSizePages)

	tmp, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("provider: vacuum-full failed to create temp file: %w", err)
	}
	defer tmp.Close()

	header := format.NewHeader(p.pageSize, now, regions)
	header.EncryptionMode = p.header.EncryptionMode
	header.NonceSeed = p.header.NonceSeed

	registryHandle := iohandle.New(tmp, int64(regions.Registry.Offset), int64(regions.Registry.Length))
	fsmHandle := iohandle.New(tmp, int64(regions.FSM.Offset), int64(regions.FSM.Length))
	walHandle := iohandle.New(tmp, int64(regions.WAL.Offset), int64(regions.WAL.Length))
	tdirHandle := iohandle.New(tmp, int64(regions.TableDir.Offset), int64(regions.TableDir.Length))

	newReg := registry.New(registryHandle, p.logger)
	// Size the new free-space map to exactly the live blocks' pages so the
	// rebuilt file carries no spare growth chunk.
	var livePages uint64
	for _, name := range names {
		if entry, ok := p.reg.Get(name); ok {
			livePages += pagesFor(entry.Length, p.pageSize)
		}
	}
	newSpace, err := fsm.New(fsmHandle, p.pageSize, livePages, now)
	if err != nil {
		return fmt.Errorf("provider: vacuum-full failed to init free-space map: %w", err)
	}
	if _, err := walcore.Open(walHandle, true, p.opts.WALBufferSizePages); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to init wal: %w", err)
	}
	newTables := tabledir.New(tdirHandle)

	if err := tmp.Truncate(int64(dataBase)); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to size temp file: %w", err)
	}
	newDataHandle := iohandle.New(tmp, int64(dataBase), 0)

	for _, name := range names {
		entry, ok := p.reg.Get(name)
		if !ok {
			continue
		}
		raw := make([]byte, entry.Length)
		if _, err := p.dataHandle.ReadAt(raw, int64(entry.Offset)); err != nil {
			return fmt.Errorf("provider: vacuum-full failed to read block %q: %w", name, err)
		}

		pages := pagesFor(entry.Length, p.pageSize)
		newOffset, err := newSpace.AllocatePages(pages)
		if err != nil {
			return fmt.Errorf("provider: vacuum-full failed to allocate for %q: %w", name, err)
		}
		needed := newOffset + entry.Length
		if needed > uint64(newDataHandle.Length()) {
			if err := tmp.Truncate(int64(dataBase) + int64(needed)); err != nil {
				return fmt.Errorf("provider: vacuum-full failed to extend temp data region: %w", err)
			}
			newDataHandle.Grow(int64(needed))
		}
		if _, err := newDataHandle.WriteAt(raw, int64(newOffset)); err != nil {
			return fmt.Errorf("provider: vacuum-full failed to write block %q: %w", name, err)
		}

		newEntry := entry
		newEntry.Offset = newOffset
		newEntry.Flags &^= format.BlockFlagDirty
		if err := newReg.Put(newEntry); err != nil {
			return fmt.Errorf("provider: vacuum-full failed to register block %q: %w", name, err)
		}
	}

	if err := newReg.ForceFlush(now); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to flush registry: %w", err)
	}
	if err := newSpace.Flush(now); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to flush free-space map: %w", err)
	}
	if err := newTables.Flush(now); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to flush table directory: %w", err)
	}

	stats := newSpace.Statistics()
	header.AllocatedPages = stats.TotalPages
	header.FragmentationPct = uint32(stats.FragmentationPct)
	header.LastVacuumAt = now.Unix()
	if _, err := tmp.WriteAt(header.Encode(), 0); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to write header: %w", err)
	}
	return tmp.Sync()
}

// Swap closes the current file, installs tempPath in its place (keeping a
// backup), and reopens every region manager from the rebuilt file. Any
// failure mid-swap restores the original file before returning.
func (p *Provider) Swap(tempPath string) error {
	backupPath := p.path + ".vacuum.bak"

	p.reg.StopPeriodicFlush()
	if p.flushCancel != nil {
		p.flushCancel()
	}

	if err := filelock.Release(p.file, p.opts.FileShareMode); err != nil {
		p.logger.Error("vacuum-full failed to release file lock before swap", "error", err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("provider: vacuum-full failed to close current file: %w", err)
	}

	if err := os.Rename(p.path, backupPath); err != nil {
		if rerr := p.reopenLocked(); rerr != nil {
			return fmt.Errorf("provider: vacuum-full failed to back up current file (%v), and failed to reopen it (%w)", err, rerr)
		}
		return fmt.Errorf("provider: vacuum-full failed to back up current file: %w", err)
	}

	if err := os.Rename(tempPath, p.path); err != nil {
		os.Rename(backupPath, p.path)
		if rerr := p.reopenLocked(); rerr != nil {
			return fmt.Errorf("provider: vacuum-full failed to install rebuilt file (%v), and failed to reopen original (%w)", err, rerr)
		}
		return fmt.Errorf("provider: vacuum-full failed to install rebuilt file, rolled back: %w", err)
	}

	if err := p.reopenLocked(); err != nil {
		os.Remove(p.path)
		os.Rename(backupPath, p.path)
		if rerr := p.reopenLocked(); rerr != nil {
			return fmt.Errorf("provider: vacuum-full failed to reopen rebuilt file (%v), and failed to reopen original (%w)", err, rerr)
		}
		return fmt.Errorf("provider: vacuum-full failed to reopen rebuilt file, rolled back: %w", err)
	}

	os.Remove(backupPath)
	return nil
}
