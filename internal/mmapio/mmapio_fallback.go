//go:build !unix

package mmapio

import (
	"fmt"
	"os"
)

// Map reads the entire file into memory when mmap is not available on
// this platform.
func Map(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mmapio: failed to read %s: %w", path, err)
	}
	return &Mapping{data: data, close: func() error { return nil }, native: false}, nil
}
