// Package iohandle provides the capability token region managers use to
// touch the underlying file. The handle that gives a sub-manager access to
// the raw file is not a back-reference to a parent object: each region
// manager is handed one Handle, scoped to its own byte range, at
// construction time, and never reaches back through it to anything else.
package iohandle

import (
	"fmt"
	"os"
)

// Handle is a bounded view onto a single *os.File: every Read/Write is
// translated to an absolute file offset within [Base, Base+Length) and
// bounds-checked before the syscall.
type Handle struct {
	file   *os.File
	base   int64
	length int64
}

// New returns a Handle scoped to [base, base+length) of file. It does not
// take ownership of file — callers close the file once, at the provider
// level, after every region manager is done with it.
func New(file *os.File, base, length int64) *Handle {
	return &Handle{file: file, base: base, length: length}
}

// Base returns the handle's starting offset in the underlying file.
func (h *Handle) Base() int64 { return h.base }

// Length returns the size of the handle's window.
func (h *Handle) Length() int64 { return h.length }

// Grow extends the handle's window length, used when a region has to grow
// (e.g. the data region after the FSM adds pages). It never moves Base.
func (h *Handle) Grow(newLength int64) { h.length = newLength }

// ReadAt reads len(p) bytes starting at rel bytes into the handle's window.
func (h *Handle) ReadAt(p []byte, rel int64) (int, error) {
	if rel < 0 || rel+int64(len(p)) > h.length {
		return 0, fmt.Errorf("iohandle: read [%d,%d) out of bounds [0,%d)", rel, rel+int64(len(p)), h.length)
	}
	return h.file.ReadAt(p, h.base+rel)
}

// WriteAt writes p starting at rel bytes into the handle's window.
func (h *Handle) WriteAt(p []byte, rel int64) (int, error) {
	if rel < 0 || rel+int64(len(p)) > h.length {
		return 0, fmt.Errorf("iohandle: write [%d,%d) out of bounds [0,%d)", rel, rel+int64(len(p)), h.length)
	}
	return h.file.WriteAt(p, h.base+rel)
}

// Sync fsyncs the whole underlying file. Regions share one file descriptor,
// so there is no way to sync only a window; this is still useful as a named
// call site for "this region wants its writes durable now".
func (h *Handle) Sync() error {
	return h.file.Sync()
}

// AbsoluteOffset translates a relative offset into an absolute file offset,
// for callers (the provider's data-page writes) that need the real byte
// position outside any region window.
func (h *Handle) AbsoluteOffset(rel int64) int64 {
	return h.base + rel
}

// File exposes the raw *os.File for the provider's own data-page I/O, which
// operates outside any single region's window. Region managers themselves
// must use ReadAt/WriteAt above, never this escape hatch.
func (h *Handle) File() *os.File { return h.file }
