package provider

import (
	"fmt"
	"time"

	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/mmapio"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/scdberr"
	"github.com/scdb-go/scdb/internal/walcore"
)

// ReadBlock returns name's current bytes, or (nil, false, nil) if it does
// not exist.
func (p *Provider) ReadBlock(name string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.reg.Get(name)
	if !ok {
		return nil, false, nil
	}

	buf := make([]byte, entry.Length)
	if _, err := p.dataHandle.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, false, fmt.Errorf("provider: failed to read block %q: %w", name, err)
	}
	if format.Checksum256(buf) != entry.Checksum {
		return nil, false, fmt.Errorf("provider: block %q: %w", name, scdberr.ErrChecksumMismatch)
	}

	if p.box != nil {
		plain, err := p.box.Open(buf)
		if err != nil {
			return nil, false, fmt.Errorf("provider: block %q: %w", name, err)
		}
		return plain, true, nil
	}
	return buf, true, nil
}

// ReadSpan returns a zero-copy view of name's bytes when memory mapping is
// enabled and the file is unencrypted, falling back to a plain copied read
// otherwise or when the file cannot be mapped.
func (p *Provider) ReadSpan(name string) (*ZeroCopyView, bool, error) {
	if !p.opts.EnableMemoryMapping || p.box != nil {
		data, ok, err := p.ReadBlock(name)
		if err != nil || !ok {
			return nil, ok, err
		}
		return &ZeroCopyView{data: data}, true, nil
	}

	p.mu.Lock()
	entry, ok := p.reg.Get(name)
	p.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	m, err := mmapio.Map(p.path)
	if err != nil {
		// Mapping failed: fall back to a plain copied read.
		data, ok, rerr := p.ReadBlock(name)
		if rerr != nil || !ok {
			return nil, ok, rerr
		}
		return &ZeroCopyView{data: data}, true, nil
	}

	mapped := m.Bytes()
	abs := p.dataHandle.AbsoluteOffset(int64(entry.Offset))
	if abs < 0 || abs+int64(entry.Length) > int64(len(mapped)) {
		m.Release()
		return nil, false, fmt.Errorf("provider: mapped file shorter than block %q span", name)
	}

	view := mapped[abs : abs+int64(entry.Length)]
	if format.Checksum256(view) != entry.Checksum {
		m.Release()
		return nil, false, fmt.Errorf("provider: block %q: %w", name, scdberr.ErrChecksumMismatch)
	}
	return &ZeroCopyView{data: view, release: m.Release}, true, nil
}

// WriteBlock writes (or overwrites) name with data: the required page
// count is computed, the existing allocation is reused if it still fits or
// else freed and reallocated, a WAL record is appended when a transaction
// is active, the bytes are written and fsynced, and the registry reflects
// the new entry before returning.
func (p *Provider) WriteBlock(name string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBlockLocked(name, data, time.Now())
}

func (p *Provider) writeBlockLocked(name string, data []byte, now time.Time) error {
	existing, exists := p.reg.Get(name)

	overhead := 0
	if p.box != nil {
		overhead = p.box.Overhead()
	}
	requiredPages := pagesFor(uint64(len(data)+overhead), p.pageSize)

	var offset uint64
	isNew := !exists
	if exists {
		existingPages := pagesFor(existing.Length, p.pageSize)
		if requiredPages <= existingPages {
			offset = existing.Offset
		} else {
			if err := p.space.FreePages(existing.Offset, existingPages); err != nil {
				return fmt.Errorf("provider: %w", err)
			}
			newOffset, err := p.space.AllocatePages(requiredPages)
			if err != nil {
				return fmt.Errorf("provider: %w", err)
			}
			if err := p.ensureDataCapacityLocked(); err != nil {
				return err
			}
			offset = newOffset
		}
	} else {
		newOffset, err := p.space.AllocatePages(requiredPages)
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
		if err := p.ensureDataCapacityLocked(); err != nil {
			return err
		}
		offset = newOffset
	}

	var stored []byte
	flags := format.BlockFlagDirty
	if p.box != nil {
		sealed, err := p.box.Seal(data)
		if err != nil {
			return fmt.Errorf("provider: failed to seal block %q: %w", name, err)
		}
		stored = sealed
		flags |= format.BlockFlagEncrypted
	} else {
		stored = data
	}
	checksum := format.Checksum256(stored)

	if p.activeTxn != nil && p.activeTxn.Active {
		op := walcore.OpUpdate
		if isNew {
			op = walcore.OpInsert
		}
		if _, err := p.wal.LogWrite(p.activeTxn.TxID, op, name, offset/uint64(p.pageSize), stored, now); err != nil {
			return fmt.Errorf("provider: %w", err)
		}
	}

	if _, err := p.dataHandle.WriteAt(stored, int64(offset)); err != nil {
		return fmt.Errorf("provider: failed to write block %q: %w", name, err)
	}
	if err := p.dataHandle.Sync(); err != nil {
		return fmt.Errorf("provider: fsync failed for block %q: %w", name, err)
	}

	entry := registry.Entry{
		Name:     name,
		Type:     format.BlockTypeRaw,
		Offset:   offset,
		Length:   uint64(len(stored)),
		Flags:    flags,
		Checksum: checksum,
	}
	if err := p.reg.Put(entry); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := p.reg.ForceFlush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	p.modMu.Lock()
	p.modTimes[name] = now.Unix()
	p.modMu.Unlock()
	return nil
}

// DeleteBlock frees name's pages and removes it from the registry. A
// missing name is a no-op, not an error.
func (p *Provider) DeleteBlock(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleteBlockLocked(name, time.Now())
}

func (p *Provider) deleteBlockLocked(name string, now time.Time) error {
	entry, ok := p.reg.Get(name)
	if !ok {
		return nil
	}

	if p.activeTxn != nil && p.activeTxn.Active {
		if _, err := p.wal.LogWrite(p.activeTxn.TxID, walcore.OpDelete, name, entry.Offset/uint64(p.pageSize), nil, now); err != nil {
			return fmt.Errorf("provider: %w", err)
		}
	}

	pages := pagesFor(entry.Length, p.pageSize)
	if err := p.space.FreePages(entry.Offset, pages); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	p.reg.Delete(name)
	if err := p.reg.ForceFlush(now); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	p.modMu.Lock()
	delete(p.modTimes, name)
	p.modMu.Unlock()
	return nil
}
