package provider

import (
	"fmt"
	"os"
	"time"

	"github.com/scdb-go/scdb/internal/cache"
	"github.com/scdb-go/scdb/internal/cryptobox"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/iohandle"
	"github.com/scdb-go/scdb/internal/registry"
	"github.com/scdb-go/scdb/internal/scdberr"
	"github.com/scdb-go/scdb/internal/tabledir"
	"github.com/scdb-go/scdb/internal/walcore"
)

const defaultCacheCapacity = 1024

// components bundles every region manager the provider composes, so Open
// and the post-vacuum-full reopen can share one construction path.
type components struct {
	header     *format.Header
	space      *fsm.FSM
	reg        *registry.Registry
	wal        *walcore.WAL
	walHandle  *iohandle.Handle
	tables     *tabledir.Directory
	box        *cryptobox.Box
	dataHandle *iohandle.Handle
	dataBase   int64
	pageSize   uint32
}

// openComponents either initializes a fresh set of regions (fresh=true, f
// still empty) or rehydrates them from an existing file's header.
func openComponents(f *os.File, opts Options, fresh bool) (*components, error) {
	now := time.Now()

	var header *format.Header
	var regions format.Regions
	var dataBase uint64

	if fresh {
		regions, dataBase = freshRegions(opts.PageSize, opts.WALBufferSizePages)
		header = format.NewHeader(opts.PageSize, now, regions)
		if opts.EnableEncryption {
			header.EncryptionMode = format.EncryptionAES256G
			if _, err := readRandom(header.NonceSeed[:]); err != nil {
				return nil, fmt.Errorf("provider: failed to generate nonce seed: %w", err)
			}
		}
		buf := header.Encode()
		if _, err := f.WriteAt(buf, 0); err != nil {
			return nil, fmt.Errorf("provider: failed to write header: %w", err)
		}
		if err := f.Truncate(int64(dataBase)); err != nil {
			return nil, fmt.Errorf("provider: failed to size fresh file: %w", err)
		}
	} else {
		hdrBuf := make([]byte, format.HeaderSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			return nil, fmt.Errorf("provider: failed to read header: %w", err)
		}
		h, err := format.Decode(hdrBuf)
		if err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		if err := h.ValidateRegions(); err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		if opts.PageSize != 0 && opts.PageSize != h.PageSize {
			return nil, fmt.Errorf("provider: opened with page size %d, header has %d: %w", opts.PageSize, h.PageSize, scdberr.ErrPageSizeMismatch)
		}
		header = h
		regions = format.Regions{Registry: h.RegistryRegion, FSM: h.FSMRegion, WAL: h.WALRegion, TableDir: h.TableDirRegion}
		dataBase = h.TableDirRegion.Offset + h.TableDirRegion.Length
	}

	pageSize := header.PageSize

	registryHandle := iohandle.New(f, int64(regions.Registry.Offset), int64(regions.Registry.Length))
	fsmHandle := iohandle.New(f, int64(regions.FSM.Offset), int64(regions.FSM.Length))
	walHandle := iohandle.New(f, int64(regions.WAL.Offset), int64(regions.WAL.Length))
	tdirHandle := iohandle.New(f, int64(regions.TableDir.Offset), int64(regions.TableDir.Length))

	var reg *registry.Registry
	var space *fsm.FSM
	var wal *walcore.WAL
	var tables *tabledir.Directory
	var err error

	if fresh {
		reg = registry.New(registryHandle, nil)
		initialPages := uint64(0)
		if opts.CreateImmediately {
			initialPages = fsm.MinExtensionPages
		}
		if space, err = fsm.New(fsmHandle, pageSize, initialPages, now); err != nil {
			return nil, fmt.Errorf("provider: failed to init fsm: %w", err)
		}
		if wal, err = walcore.Open(walHandle, true, opts.WALBufferSizePages); err != nil {
			return nil, fmt.Errorf("provider: failed to init wal: %w", err)
		}
		tables = tabledir.New(tdirHandle)
		if err := reg.ForceFlush(now); err != nil {
			return nil, fmt.Errorf("provider: failed to flush fresh registry: %w", err)
		}
		if err := tables.Flush(now); err != nil {
			return nil, fmt.Errorf("provider: failed to flush fresh table directory: %w", err)
		}
	} else {
		if reg, err = registry.Open(registryHandle, nil); err != nil {
			return nil, fmt.Errorf("provider: failed to open registry: %w", err)
		}
		if space, err = fsm.Open(fsmHandle, pageSize); err != nil {
			return nil, fmt.Errorf("provider: failed to open fsm: %w", err)
		}
		if wal, err = walcore.Open(walHandle, false, 0); err != nil {
			return nil, fmt.Errorf("provider: failed to open wal: %w", err)
		}
		if tables, err = tabledir.Open(tdirHandle); err != nil {
			return nil, fmt.Errorf("provider: failed to open table directory: %w", err)
		}
	}

	var box *cryptobox.Box
	if header.EncryptionMode == format.EncryptionAES256G {
		if len(opts.EncryptionKey) == 0 {
			return nil, fmt.Errorf("provider: %w", scdberr.ErrEncryptionKeyMissing)
		}
		if box, err = cryptobox.New(opts.EncryptionKey, header.NonceSeed); err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("provider: failed to stat file: %w", err)
	}
	dataLen := info.Size() - int64(dataBase)
	if dataLen < 0 {
		dataLen = 0
	}
	dataHandle := iohandle.New(f, int64(dataBase), dataLen)

	return &components{
		header:     header,
		space:      space,
		reg:        reg,
		wal:        wal,
		walHandle:  walHandle,
		tables:     tables,
		box:        box,
		dataHandle: dataHandle,
		dataBase:   int64(dataBase),
		pageSize:   pageSize,
	}, nil
}

func newCache() *cache.Cache {
	return cache.New(defaultCacheCapacity)
}
