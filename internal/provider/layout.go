package provider

import (
	"github.com/scdb-go/scdb/internal/fsm"
	"github.com/scdb-go/scdb/internal/format"
	"github.com/scdb-go/scdb/internal/walcore"
)

// The metadata regions (registry, FSM, WAL, table directory) sit at fixed
// offsets for the life of the file, so each is reserved at a generous fixed
// capacity at creation time; only the data region (the file's tail) grows
// as blocks are written. Growing a metadata region in place would collide
// with whatever region follows it.
const (
	defaultRegistryCapacity = 4096
	defaultMaxDataPages     = 1 << 20
	defaultExtentCapacity   = 4096
	defaultTableDirCapacity = 256
)

func alignUp(x uint64, align uint32) uint64 {
	a := uint64(align)
	if a == 0 {
		return x
	}
	if rem := x % a; rem != 0 {
		return x + (a - rem)
	}
	return x
}

// freshRegions computes the four fixed-offset region descriptors for a
// newly created file, plus the data region's base offset.
func freshRegions(pageSize uint32, walMaxEntries uint64) (format.Regions, uint64) {
	off := uint64(format.HeaderSize)

	registryLen := alignUp(uint64(format.RegionHeaderSize)+uint64(defaultRegistryCapacity)*format.BlockEntrySize, pageSize)
	registry := format.RegionDescriptor{Offset: off, Length: registryLen}
	off += registryLen

	fsmLen := alignUp(uint64(fsm.RegionSize(defaultMaxDataPages, defaultExtentCapacity)), pageSize)
	fsmRegion := format.RegionDescriptor{Offset: off, Length: fsmLen}
	off += fsmLen

	walLen := alignUp(uint64(walcore.RegionHeaderSize)+walMaxEntries*walcore.EntrySize, pageSize)
	wal := format.RegionDescriptor{Offset: off, Length: walLen}
	off += walLen

	tdirLen := alignUp(uint64(format.RegionHeaderSize)+uint64(defaultTableDirCapacity)*format.TableEntrySize, pageSize)
	tdir := format.RegionDescriptor{Offset: off, Length: tdirLen}
	off += tdirLen

	return format.Regions{Registry: registry, FSM: fsmRegion, WAL: wal, TableDir: tdir}, off
}

func pagesFor(length uint64, pageSize uint32) uint64 {
	if length == 0 {
		return 1
	}
	return (length + uint64(pageSize) - 1) / uint64(pageSize)
}
