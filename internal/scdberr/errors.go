// Package scdberr defines the typed error taxonomy surfaced by the storage
// core. Callers should use errors.Is against the sentinels here rather than
// matching on message text.
package scdberr

import "errors"

var (
	// ErrHeaderInvalid means the file header failed structural validation
	// (bad magic, truncated, checksum mismatch). Caller should not retry.
	ErrHeaderInvalid = errors.New("scdb: header invalid")

	// ErrVersionUnsupported means the file's format version is outside the
	// [minimum, known] range this build understands.
	ErrVersionUnsupported = errors.New("scdb: unsupported format version")

	// ErrPageSizeMismatch means the page size recorded in the header does
	// not match the page size requested at open.
	ErrPageSizeMismatch = errors.New("scdb: page size mismatch")

	// ErrChecksumMismatch means on-disk bytes did not hash to the checksum
	// recorded for them. Indicates corruption.
	ErrChecksumMismatch = errors.New("scdb: checksum mismatch")

	// ErrTransactionConflict means a transaction was started while one was
	// already active on the same provider.
	ErrTransactionConflict = errors.New("scdb: transaction already active")

	// ErrTransactionState means a transaction operation was attempted from
	// an invalid state (e.g. commit with no active transaction).
	ErrTransactionState = errors.New("scdb: invalid transaction state")

	// ErrRegistryOverflow means the block registry region is too small to
	// hold a flush of the current entry set.
	ErrRegistryOverflow = errors.New("scdb: registry region overflow")

	// ErrFSMOverflow means the free-space map region is too small for the
	// file's current page count.
	ErrFSMOverflow = errors.New("scdb: free-space map region overflow")

	// ErrWALFull means the WAL's configured capacity was exceeded in a way
	// that could not be satisfied by circular reuse (caller should vacuum or
	// reopen with a larger WAL region).
	ErrWALFull = errors.New("scdb: write-ahead log full")

	// ErrEncryptionKeyMissing means encryption is enabled but no key was
	// supplied at open.
	ErrEncryptionKeyMissing = errors.New("scdb: encryption key missing")

	// ErrDecryptionFailed means AEAD decryption failed authentication.
	ErrDecryptionFailed = errors.New("scdb: decryption failed")

	// ErrNotFound is returned by internal helpers; public APIs translate it
	// into (nil, nil)/(zero, false) rather than surfacing it.
	ErrNotFound = errors.New("scdb: not found")

	// ErrTornRecord means a WAL record failed validation in a way that
	// indicates a partially-written record (e.g. a crash mid-write), not a
	// read failure. Recovery treats it as the end of the live log rather
	// than a fatal error.
	ErrTornRecord = errors.New("scdb: torn WAL record")
)
