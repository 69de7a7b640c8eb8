// Package mmapio implements a zero-copy memory-mapped read path: map the
// whole file read-only so read_block can hand callers a slice directly
// into the page cache instead of copying. On platforms without mmap, Map
// returns a copying fallback; where mmap exists but fails, Map returns the
// error and the caller falls back to a copied read.
package mmapio

// Mapping is a live memory-mapped (or copied, on fallback) view of a file.
type Mapping struct {
	data   []byte
	close  func() error
	native bool
}

// Bytes returns the mapped (or copied) contents. Callers must call
// Release before the underlying file is closed or written to through any
// other handle, to avoid observing a torn page.
func (m *Mapping) Bytes() []byte { return m.data }

// Native reports whether this Mapping is a real OS mmap (true) or a
// copying fallback (false).
func (m *Mapping) Native() bool { return m.native }

// Release unmaps (or, for the fallback, no-ops) the mapping.
func (m *Mapping) Release() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}
