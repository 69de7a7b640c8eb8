// Package filelock advises the host OS about how a .scdb file's descriptor
// should be shared across processes, per the file_share_mode option: a
// provider process can ask for an exclusive lock, a shared (allow-readers)
// lock, or no advisory lock at all (external, the caller manages sharing
// itself). This is advisory only — it does not stop another process from
// opening the file unlocked.
package filelock

// Mode identifies the requested sharing behavior.
type Mode int

const (
	// External means the provider takes no advisory lock; whatever manages
	// process coordination outside the provider is responsible for it.
	External Mode = iota
	// AllowReaders takes a shared lock, permitting other shared lockers but
	// excluding anything holding (or requesting) an exclusive lock.
	AllowReaders
	// Exclusive takes an exclusive lock, excluding every other locker.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case External:
		return "External"
	case AllowReaders:
		return "AllowReaders"
	case Exclusive:
		return "Exclusive"
	default:
		return "Unknown"
	}
}
