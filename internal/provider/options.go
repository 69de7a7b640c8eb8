package provider

import (
	"log/slog"

	"github.com/scdb-go/scdb/internal/filelock"
	"github.com/scdb-go/scdb/internal/logging"
)

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 4096

// DefaultWALMaxEntries bounds the WAL ring when Options.WALBufferSizePages
// is zero.
const DefaultWALMaxEntries = 4096

// Options is the recognized configuration surface for Open: every field
// here corresponds to one of the core's recognized options. Absent options
// default conservatively.
type Options struct {
	// PageSize is the page granularity in bytes, a power of two in
	// [format.MinPageSize, format.MaxPageSize]. Immutable for the life of
	// the file: on reopen it must match the value recorded in the header.
	PageSize uint32

	// EnableEncryption turns on AES-256-GCM for data pages on a freshly
	// created file. Ignored on reopen, where the header's recorded
	// encryption mode is authoritative.
	EnableEncryption bool

	// EncryptionKey is the 32-byte AES-256 key. Required whenever the file's
	// (new or existing) encryption mode is AES-256-GCM.
	EncryptionKey []byte

	// EnableMemoryMapping turns on the zero-copy ReadSpan path.
	EnableMemoryMapping bool

	// WALBufferSizePages sets the WAL ring's entry capacity on a freshly
	// created file. Ignored on reopen.
	WALBufferSizePages uint64

	// CreateImmediately pre-allocates a first chunk of data pages at create
	// time instead of growing the FSM lazily on first allocation.
	CreateImmediately bool

	// FileShareMode controls the advisory OS-level lock taken on the file
	// descriptor.
	FileShareMode filelock.Mode

	// UseUnbufferedIO requests O_DIRECT-style unbuffered I/O where the
	// platform supports it. Plain os.File does not expose this on every
	// platform; where unsupported, the option is accepted and ignored
	// rather than failing open.
	UseUnbufferedIO bool

	// Logger receives structured logs for open/close/transaction/vacuum
	// events. Takes precedence over Logging when both are set. Defaults to
	// a logger built from Logging (or logging.Default() if Logging is also
	// unset) when nil.
	Logger *slog.Logger

	// Logging configures the default logger's handlers when Logger is nil.
	// Ignored once Logger is set.
	Logging logging.Config
}

func (o Options) withDefaults() (Options, func()) {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.WALBufferSizePages == 0 {
		o.WALBufferSizePages = DefaultWALMaxEntries
	}
	closeFn := func() {}
	if o.Logger == nil {
		o.Logger, closeFn = logging.SetupLogger(o.Logging)
	}
	return o, closeFn
}
