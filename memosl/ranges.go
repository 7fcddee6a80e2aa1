package memosl

import "sync"

// rangeTable is an in-process byte-range lock manager with the
// non-blocking advisory semantics the platform host gets from its
// kernel: an exclusive range conflicts with any overlapping holder, a
// shared range coexists with shared holders, and an unlock must name an
// exact previously locked range. A handle's own ranges conflict with
// its new requests like anyone else's, as they do on the platform host.
type rangeTable struct {
	mtx sync.Mutex
	// +checklocks:mtx
	held []heldRange
}

type heldRange struct {
	owner any
	// Half-open interval; 64-bit because the shared pool ends exactly
	// at the top of the 32-bit offset space.
	start, end uint64
	exclusive  bool
}

func (t *rangeTable) lock(owner any, start, n uint32, exclusive bool) bool {
	lo, hi := uint64(start), uint64(start)+uint64(n)
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for i := range t.held {
		h := &t.held[i]
		if h.end <= lo || hi <= h.start {
			continue
		}
		if exclusive || h.exclusive {
			return false
		}
	}
	t.held = append(t.held, heldRange{owner, lo, hi, exclusive})
	return true
}

func (t *rangeTable) unlock(owner any, start, n uint32) bool {
	lo, hi := uint64(start), uint64(start)+uint64(n)
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for i := range t.held {
		h := t.held[i]
		if h.owner == owner && h.start == lo && h.end == hi {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return true
		}
	}
	return false
}
