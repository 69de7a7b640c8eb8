//go:build unix

package mmapio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map memory-maps path read-only for its full size. Returns a Mapping
// whose Release() munmaps it.
func Map(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapio: failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmapio: failed to stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &Mapping{data: []byte{}, close: func() error { return nil }, native: true}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmapio: mmap failed: %w", err)
	}

	released := false
	return &Mapping{
		data: data,
		close: func() error {
			if released {
				return nil
			}
			released = true
			return unix.Munmap(data)
		},
		native: true,
	}, nil
}
