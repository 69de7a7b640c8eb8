// Package vacuum implements three reclamation modes: Quick (checkpoint
// only), Incremental (relocate sub-optimally placed dirty blocks, one
// bounded pass), and Full (rebuild the whole file in compact order via
// a temp-file swap with backup rollback).
package vacuum

import (
	"fmt"
	"sort"
	"time"

	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/walcore"
)

// Mode identifies which vacuum strategy ran.
type Mode int

const (
	ModeQuick Mode = iota
	ModeIncremental
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeQuick:
		return "Quick"
	case ModeIncremental:
		return "Incremental"
	case ModeFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// Report summarizes the outcome of a single vacuum run.
type Report struct {
	Mode             Mode
	Duration         time.Duration
	BytesReclaimed   int64
	FragBefore       float64
	FragAfter        float64
	BlocksMoved      int
	BlocksDeleted    int
	Success          bool
	Error            string
}

// BlockIO is the raw data-region access Incremental vacuum needs to
// relocate a block's bytes; the provider supplies it.
type BlockIO interface {
	ReadBlockBytes(offset, length uint64) ([]byte, error)
	WriteBlockBytes(offset uint64, data []byte) error
}

// Quick checkpoints the WAL and reports the current fragmentation; the
// caller (the provider) is responsible for updating the header's
// LastVacuumAt timestamp afterward.
func Quick(wal *walcore.WAL, space *fsm.FSM, now time.Time) (Report, error) {
	start := now
	stats := space.Statistics()

	if _, err := wal.Checkpoint(now); err != nil {
		return Report{Mode: ModeQuick, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: quick checkpoint failed: %w", err)
	}

	return Report{
		Mode:       ModeQuick,
		Duration:   time.Since(start),
		FragBefore: stats.FragmentationPct,
		FragAfter:  stats.FragmentationPct,
		Success:    true,
	}, nil
}

// Incremental walks dirty blocks and relocates any currently sitting at a
// higher page offset than a freshly-allocated extent of its size would
// occupy. Bounded to a single pass per invocation, since repeatedly
// re-running the relocation heuristic against its own output can ping-pong
// a block back and forth between two offsets.
func Incremental(reg *registry.Registry, space *fsm.FSM, io BlockIO, pageSize uint32, now time.Time) (Report, error) {
	start := now
	before := space.Statistics()

	names := reg.List()
	sort.Strings(names)

	var moved int
	var reclaimed int64

	for _, name := range names {
		entry, ok := reg.Get(name)
		if !ok || entry.Flags&format.BlockFlagDirty == 0 {
			continue
		}

		pages := pagesFor(entry.Length, pageSize)
		betterPage, ok := space.BestAvailableOffset(pages)
		if !ok {
			continue
		}
		currentPage := entry.Offset / uint64(pageSize)
		if betterPage >= currentPage {
			continue
		}

		data, err := io.ReadBlockBytes(entry.Offset, entry.Length)
		if err != nil {
			return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to read block %q for relocation: %w", name, err)
		}

		newOffset, err := space.AllocatePages(pages)
		if err != nil {
			return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to allocate relocation target for %q: %w", name, err)
		}
		if err := io.WriteBlockBytes(newOffset, data); err != nil {
			return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to write relocated block %q: %w", name, err)
		}
		if err := space.FreePages(entry.Offset, pages); err != nil {
			return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to free old pages for %q: %w", name, err)
		}

		entry.Offset = newOffset
		entry.Flags &^= format.BlockFlagDirty
		if err := reg.Put(entry); err != nil {
			return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to update registry for %q: %w", name, err)
		}

		moved++
		reclaimed += int64(pages) * int64(pageSize)
	}

	if err := reg.ForceFlush(now); err != nil {
		return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to flush registry: %w", err)
	}
	if err := space.Flush(now); err != nil {
		return Report{Mode: ModeIncremental, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: failed to flush fsm: %w", err)
	}

	after := space.Statistics()
	return Report{
		Mode:           ModeIncremental,
		Duration:       time.Since(start),
		BytesReclaimed: reclaimed,
		FragBefore:     before.FragmentationPct,
		FragAfter:      after.FragmentationPct,
		BlocksMoved:    moved,
		Success:        true,
	}, nil
}

func pagesFor(length uint64, pageSize uint32) uint64 {
	if length == 0 {
		return 1
	}
	return (length + uint64(pageSize) - 1) / uint64(pageSize)
}

// FullRebuilder is the provider-supplied file-swap machinery Full vacuum
// drives: building a compacted replacement file is straightforward, but
// swapping it in safely requires the provider's own open-file-descriptor
// lifecycle (close current, rename current -> backup, rename temp ->
// current, reopen, delete backup, or restore backup on any failure).
type FullRebuilder interface {
	// Rebuild writes a complete, fsynced, valid .scdb file at tempPath
	// containing every live block in sorted-name order.
	Rebuild(tempPath string) error
	// Swap performs the close/rename/reopen dance, rolling back to the
	// pre-vacuum file if any step fails.
	Swap(tempPath string) error
}

// Full rebuilds the entire file in compact order via a temp-file swap.
func Full(rebuilder FullRebuilder, tempPath string, before fsm.Stats, now time.Time) (Report, error) {
	start := now

	if err := rebuilder.Rebuild(tempPath); err != nil {
		return Report{Mode: ModeFull, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: full rebuild failed: %w", err)
	}
	if err := rebuilder.Swap(tempPath); err != nil {
		return Report{Mode: ModeFull, Success: false, Error: err.Error()}, fmt.Errorf("vacuum: full swap failed, rolled back: %w", err)
	}

	return Report{
		Mode:       ModeFull,
		Duration:   time.Since(start),
		FragBefore: before.FragmentationPct,
		Success:    true,
	}, nil
}
