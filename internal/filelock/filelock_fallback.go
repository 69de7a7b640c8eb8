//go:build !unix

package filelock

import "os"

// Acquire is a no-op on platforms without flock; sharing mode becomes
// advisory-only documentation rather than an enforced lock.
func Acquire(f *os.File, mode Mode) error { return nil }

// Release is a no-op to match Acquire.
func Release(f *os.File, mode Mode) error { return nil }
