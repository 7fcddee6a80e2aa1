package osl

// LockLevel is the level of the lock a descriptor holds on its file.
// Levels are strictly ordered; a descriptor holds exactly one at a time.
type LockLevel uint8

const (
	LOCK_NONE LockLevel = iota
	LOCK_SHARED
	LOCK_RESERVED
	LOCK_PENDING
	LOCK_EXCLUSIVE
)

func (l LockLevel) String() string {
	switch l {
	case LOCK_NONE:
		return "NONE"
	case LOCK_SHARED:
		return "SHARED"
	case LOCK_RESERVED:
		return "RESERVED"
	case LOCK_PENDING:
		return "PENDING"
	case LOCK_EXCLUSIVE:
		return "EXCLUSIVE"
	}
	return "INVALID"
}

// Byte-range lock layout.
//
// Locks are placed at the very top of the 32-bit offset space, where they
// cannot collide with file data. These offsets are a wire contract shared
// with every other process that opens the file: changing any of them breaks
// cross-version compatibility.
//
// A SHARED lock is a reader lock over the whole pool, or, on hosts without
// reader locks, an exclusive lock on a single randomly chosen pool byte.
// An EXCLUSIVE lock covers the whole pool. RESERVED and PENDING are single
// designated bytes just below it.
const (
	_SHARED_SIZE   = 10238
	_SHARED_FIRST  = 0xffffffff - _SHARED_SIZE + 1
	_RESERVED_BYTE = _SHARED_FIRST - 1
	_PENDING_BYTE  = _RESERVED_BYTE - 1
)

// TempFilePrefix starts every generated temporary file name.
const TempFilePrefix = "osl_"
