// Package osl implements the OS abstraction layer a single-file embedded
// relational database engine uses to persist data durably.
//
// The layer is the sole gateway between the engine's higher layers
// (page cache, pager, B-tree, VM) and the host: it opens, reads, writes,
// truncates and syncs files, resolves paths, generates temporary names and
// random seeds, yields time, and, above all, enforces the engine's
// multi-reader single-writer concurrency contract across independent
// processes using only the host's advisory byte-range locks.
//
// Hosts are pluggable. The platform host registers itself as "os" on
// Windows builds; package memosl registers an in-process host as "mem".
// A [File] implementation gets the full locking protocol by embedding
// [FileLock] over its [RangeLocker].
package osl

import (
	"sync/atomic"
	"time"
)

// A File is an open descriptor bound to exactly one host file.
//
// Operations on one File are serialized by the engine; distinct Files,
// possibly in distinct processes, coordinate only through [File.Lock].
type File interface {
	// Read reads exactly len(p) bytes from the current position.
	// A short read for any reason, including EOF, is IOERR.
	Read(p []byte) error
	// Write writes all of p at the current position, looping over
	// short writes. FULL if the buffer cannot be drained.
	Write(p []byte) error
	// Seek sets the file position relative to the beginning.
	// It always succeeds; errors surface on the next read or write.
	Seek(off int64) error
	// Truncate sets the end of the file.
	Truncate(size int64) error
	// Size returns the current size of the file.
	Size() (int64, error)
	// Sync forces buffered writes to stable storage.
	Sync() error
	// Lock escalates to the given level; a request at or below the
	// current level is a no-op. BUSY if a peer holds a conflicting lock.
	Lock(LockLevel) error
	// Unlock drops directly to LOCK_NONE.
	Unlock() error
	// CheckReservedLock reports whether some process, possibly this
	// one, holds RESERVED or higher on the file.
	CheckReservedLock() (bool, error)
	// LockState returns the level this descriptor currently holds.
	LockState() LockLevel
	// Close releases the descriptor and any locks it still holds.
	Close() error
}

// A Host opens files and answers path queries for one backing store.
type Host interface {
	// OpenReadWrite opens name read-write, creating it if missing,
	// falling back to read-only on denial. The flag reports whether
	// the fallback was taken. CANTOPEN if neither works.
	OpenReadWrite(name string) (File, bool, error)
	// OpenExclusive creates name anew with no sharing, optionally
	// deleting it when closed. CANTOPEN on any collision.
	OpenExclusive(name string, delOnClose bool) (File, error)
	// OpenReadOnly opens an existing file for shared reading.
	OpenReadOnly(name string) (File, error)
	// OpenDirectory exists for interface uniformity with hosts that
	// sync directory entries. A no-op here.
	OpenDirectory(name string) error
	// Delete removes name. Missing files are not an error.
	Delete(name string) error
	// Exists reports whether name exists.
	Exists(name string) bool
	// FullPathname returns the canonical absolute form of name.
	FullPathname(name string) (string, error)
	// TempFilename returns a fresh absolute path that did not exist
	// at the moment it was generated.
	TempFilename() (string, error)
}

var hosts = map[string]Host{}

// Register makes a host available under the given name,
// replacing any previous registration.
func Register(name string, h Host) {
	EnterMutex()
	defer LeaveMutex()
	hosts[name] = h
}

// Find returns the host registered under the given name, or nil.
func Find(name string) Host {
	EnterMutex()
	defer LeaveMutex()
	return hosts[name]
}

var openCount atomic.Int32

// OpenCounter adjusts the count of open descriptors by delta and returns
// the new value. Hosts call it with +1 on every successful open and -1 on
// close; the engine reads it with a zero delta for diagnostics.
func OpenCounter(delta int32) int32 {
	return openCount.Add(delta)
}

// Trace, if set, receives a line for each operation the layer performs.
var Trace func(format string, args ...any)

func trace(format string, args ...any) {
	if Trace != nil {
		Trace(format, args...)
	}
}

// IOErrorHook, if set, is consulted before each guarded I/O operation
// with the operation name. Returning true forces the operation to fail
// with IOERR. The engine's test harness uses it to exercise error paths.
var IOErrorHook func(op string) bool

func simulateIOError(op string) bool {
	return IOErrorHook != nil && IOErrorHook(op)
}

// Sleep yields the processor for at least ms milliseconds
// and returns the requested duration.
func Sleep(ms int) int {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms
}
