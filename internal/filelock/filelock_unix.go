//go:build unix

package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Acquire takes an advisory flock on f per mode. External is a no-op.
func Acquire(f *os.File, mode Mode) error {
	var how int
	switch mode {
	case External:
		return nil
	case AllowReaders:
		how = unix.LOCK_SH | unix.LOCK_NB
	case Exclusive:
		how = unix.LOCK_EX | unix.LOCK_NB
	default:
		return fmt.Errorf("filelock: unknown mode %v", mode)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("filelock: failed to acquire %v lock: %w", mode, err)
	}
	return nil
}

// Release drops an advisory lock taken by Acquire. External is a no-op.
func Release(f *os.File, mode Mode) error {
	if mode == External {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("filelock: failed to release lock: %w", err)
	}
	return nil
}
