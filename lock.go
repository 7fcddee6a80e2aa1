package osl

import "encoding/binary"

// RangeLocker is the byte-range locking capability a host lends to the
// lock protocol. All calls are non-blocking: on contention they return
// false immediately. Hosts without reader locks implement LockShared as
// an exclusive lock; the protocol is designed to tolerate that.
type RangeLocker interface {
	LockShared(start, n uint32) bool
	LockExclusive(start, n uint32) bool
	UnlockRange(start, n uint32) bool
}

// FileLock runs the engine's hierarchical lock protocol over a
// RangeLocker. File implementations embed it; the zero value is not
// usable, construct with NewFileLock.
//
// The protocol enforces multi-reader single-writer semantics across
// processes. A reader takes the PENDING byte, places itself in the
// shared pool, and drops PENDING. A writer climbs SHARED, RESERVED,
// PENDING, and finally replaces its reader presence with an exclusive
// lock over the whole pool; PENDING, held throughout the promotion,
// keeps new readers out while existing ones drain.
type FileLock struct {
	ranges     RangeLocker
	reader     readerLockStrategy
	level      LockLevel
	sharedByte uint32
}

// NewFileLock returns a FileLock over ranges. Modern hosts place reader
// locks over the whole shared pool; legacy hosts, which only have
// single-mode locks, hold one randomly chosen pool byte instead, so two
// legacy readers collide only when they draw the same byte.
func NewFileLock(ranges RangeLocker, modern bool) FileLock {
	l := FileLock{ranges: ranges}
	if modern {
		l.reader = wholeRegion{}
	} else {
		l.reader = randomByte{}
	}
	return l
}

// readerLockStrategy is how a descriptor maintains its presence in the
// shared pool while at SHARED level.
type readerLockStrategy interface {
	get(l *FileLock) bool
	drop(l *FileLock) bool
}

// wholeRegion is the modern regime: one reader lock spanning the pool.
type wholeRegion struct{}

func (wholeRegion) get(l *FileLock) bool {
	return l.ranges.LockShared(_SHARED_FIRST, _SHARED_SIZE)
}

func (wholeRegion) drop(l *FileLock) bool {
	return l.ranges.UnlockRange(_SHARED_FIRST, _SHARED_SIZE)
}

// randomByte is the legacy regime: an exclusive lock on one pool byte,
// drawn from the process randomness source so concurrent readers rarely
// pick the same byte.
type randomByte struct{}

func (randomByte) get(l *FileLock) bool {
	var buf [4]byte
	randomFill(buf[:])
	lk := binary.LittleEndian.Uint32(buf[:])
	l.sharedByte = (lk & 0x7fffffff) % (_SHARED_SIZE - 1)
	return l.ranges.LockExclusive(_SHARED_FIRST+l.sharedByte, 1)
}

func (randomByte) drop(l *FileLock) bool {
	return l.ranges.UnlockRange(_SHARED_FIRST+l.sharedByte, 1)
}

// Lock escalates the descriptor to the given level. A request at or
// below the current level is a no-op. If any host lock call fails the
// acquisition aborts, transient locks are undone as the protocol
// dictates, and BUSY is returned.
//
// A BUSY from an EXCLUSIVE request means total lock loss: the reader
// presence is released before the pool-wide lock is attempted and is
// not restored on failure, while the reported level keeps its prior
// value. The pager recovers by calling Unlock and starting over.
func (l *FileLock) Lock(level LockLevel) error {
	if l.level >= level {
		return nil
	}
	res := true

	// The PENDING byte gates new readers during writer promotion.
	// It is held only transiently by other readers entering the pool,
	// so a handful of short retries rides out that window.
	if l.level == LOCK_NONE || level == LOCK_PENDING {
		for cnt := 4; ; cnt-- {
			res = l.ranges.LockExclusive(_PENDING_BYTE, 1)
			if res || cnt <= 1 {
				break
			}
			Sleep(1)
		}
	}

	// Enter the shared pool. PENDING is kept only if the target needs it.
	if level >= LOCK_SHARED && l.level < LOCK_SHARED && res {
		res = l.reader.get(l)
		if level < LOCK_PENDING {
			l.ranges.UnlockRange(_PENDING_BYTE, 1)
		}
	}

	// RESERVED signals write intent on its own byte, so it never
	// conflicts with readers in the pool. It must be a write lock:
	// a second writer's request has to fail here, and the reader-lock
	// probe in CheckReservedLock can only detect a write lock.
	if level >= LOCK_RESERVED && l.level < LOCK_RESERVED && res {
		res = l.ranges.LockExclusive(_RESERVED_BYTE, 1)
	}

	// Promote to EXCLUSIVE: swap the reader presence for a write lock
	// over the whole pool. The gap is safe because PENDING is held.
	if level == LOCK_EXCLUSIVE && res {
		if l.level >= LOCK_SHARED {
			res = l.reader.drop(l)
		}
		if res {
			res = l.ranges.LockExclusive(_SHARED_FIRST, _SHARED_SIZE)
		}
	}

	if !res {
		return BUSY
	}
	l.level = level
	return nil
}

// Unlock releases every range the current level indicates is held and
// drops to LOCK_NONE. It always succeeds.
func (l *FileLock) Unlock() error {
	if l.level >= LOCK_EXCLUSIVE {
		l.ranges.UnlockRange(_SHARED_FIRST, _SHARED_SIZE)
	}
	if l.level >= LOCK_PENDING {
		l.ranges.UnlockRange(_PENDING_BYTE, 1)
	}
	if l.level >= LOCK_RESERVED {
		l.ranges.UnlockRange(_RESERVED_BYTE, 1)
	}
	if l.level >= LOCK_SHARED && l.level < LOCK_EXCLUSIVE {
		// At EXCLUSIVE the reader presence was already swapped out
		// during promotion, hence the upper bound. After a BUSY
		// promotion it is gone too, and releasing it again is a no-op.
		l.reader.drop(l)
	}
	l.level = LOCK_NONE
	return nil
}

// CheckReservedLock reports whether some process, possibly this one,
// holds RESERVED or higher. Other holders are detected by probing the
// RESERVED byte with a reader lock and releasing it on success.
func (l *FileLock) CheckReservedLock() (bool, error) {
	if l.level >= LOCK_RESERVED {
		return true, nil
	}
	if l.ranges.LockShared(_RESERVED_BYTE, 1) {
		l.ranges.UnlockRange(_RESERVED_BYTE, 1)
		return false, nil
	}
	return true, nil
}

// LockState returns the level this descriptor currently holds.
func (l *FileLock) LockState() LockLevel {
	return l.level
}
