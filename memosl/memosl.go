package memosl

import (
	"sync"

	"github.com/edofic/go-ordmap/v2"
	"github.com/ncruces/go-osl"
)

const sectorSize = 65536 // 64KiB

// memFile is the shared backing of one in-memory file.
type memFile struct {
	name string

	// File content keyed by sector index. Sectors are sectorSize bytes,
	// except potentially the last one after a truncate.
	// +checklocks:dataMtx
	data ordmap.NodeBuiltin[int64, []byte]

	// Logical size of the file.
	// +checklocks:dataMtx
	size int64

	// +checklocks:memoryMtx
	refs int32
	// +checklocks:memoryMtx
	noShare bool
	// +checklocks:memoryMtx
	delOnClose bool

	locks   rangeTable
	dataMtx sync.RWMutex
}

func (f *memFile) release() {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()
	if f.refs--; f.refs <= 0 {
		f.noShare = false
		if f.delOnClose && memoryFiles[f.name] == f {
			delete(memoryFiles, f.name)
		}
	}
}

// memHandle is one open descriptor of a memFile.
type memHandle struct {
	*memFile
	osl.FileLock
	pos      int64
	readOnly bool
	legacy   bool
}

var _ osl.File = &memHandle{}

func (h *memHandle) Close() error {
	if h.LockState() != osl.LOCK_NONE {
		_ = h.Unlock()
	}
	h.release()
	osl.OpenCounter(-1)
	return nil
}

func (h *memHandle) Seek(off int64) error {
	h.pos = off
	return nil
}

func (h *memHandle) Read(p []byte) error {
	if osl.IOErrorHook != nil && osl.IOErrorHook("read") {
		return osl.IOERR
	}
	h.dataMtx.RLock()
	defer h.dataMtx.RUnlock()

	if h.pos < 0 || h.pos+int64(len(p)) > h.size {
		return osl.IOERR
	}
	off := h.pos
	for len(p) > 0 {
		base := off / sectorSize
		rest := off % sectorSize
		n := min(int64(len(p)), sectorSize-rest)
		if page, ok := h.data.Get(base); ok && rest < int64(len(page)) {
			got := copy(p[:n], page[rest:])
			clear(p[got:n])
		} else {
			// A hole reads as zeros.
			clear(p[:n])
		}
		p = p[n:]
		off += n
	}
	h.pos = off
	return nil
}

func (h *memHandle) Write(p []byte) error {
	if osl.IOErrorHook != nil && osl.IOErrorHook("write") {
		return osl.IOERR
	}
	if h.readOnly {
		return osl.IOERR
	}
	h.dataMtx.Lock()
	defer h.dataMtx.Unlock()

	if h.pos < 0 {
		return osl.IOERR
	}
	off := h.pos
	for len(p) > 0 {
		base := off / sectorSize
		rest := off % sectorSize
		n := min(int64(len(p)), sectorSize-rest)
		sector := make([]byte, sectorSize)
		if page, ok := h.data.Get(base); ok {
			copy(sector, page)
		}
		copy(sector[rest:], p[:n])
		h.data = h.data.Insert(base, sector)
		p = p[n:]
		off += n
	}
	if off > h.size {
		h.size = off
	}
	h.pos = off
	return nil
}

func (h *memHandle) Truncate(size int64) error {
	if osl.IOErrorHook != nil && osl.IOErrorHook("truncate") {
		return osl.IOERR
	}
	if h.readOnly {
		return osl.IOERR
	}
	h.dataMtx.Lock()
	defer h.dataMtx.Unlock()

	if size < 0 {
		size = 0
	}
	h.size = size
	if size == 0 {
		h.data = ordmap.NewBuiltin[int64, []byte]()
		return nil
	}

	lastBase := (size - 1) / sectorSize
	rest := size - lastBase*sectorSize
	if page, ok := h.data.Get(lastBase); ok {
		trimmed := make([]byte, sectorSize)
		copy(trimmed, page)
		h.data = h.data.Insert(lastBase, trimmed[:rest])
	}
	// The map is persistent: removing while iterating a snapshot is fine.
	for iter := h.data.Iterate(); !iter.Done(); iter.Next() {
		if key := iter.GetKey(); key > lastBase {
			h.data = h.data.Remove(key)
		}
	}
	return nil
}

func (h *memHandle) Size() (int64, error) {
	if osl.IOErrorHook != nil && osl.IOErrorHook("fstat") {
		return 0, osl.IOERR
	}
	h.dataMtx.RLock()
	defer h.dataMtx.RUnlock()
	return h.size, nil
}

func (h *memHandle) Sync() error {
	return nil
}

// The handle is the lock owner: its ranges conflict with other handles
// of the same file exactly as two processes' would on the platform
// host. A legacy handle has no reader locks, so shared requests degrade
// to exclusive.

func (h *memHandle) LockShared(start, n uint32) bool {
	return h.locks.lock(h, start, n, h.legacy)
}

func (h *memHandle) LockExclusive(start, n uint32) bool {
	return h.locks.lock(h, start, n, true)
}

func (h *memHandle) UnlockRange(start, n uint32) bool {
	return h.locks.unlock(h, start, n)
}
