// Package readerosl provides a read-only host for the OS abstraction
// layer, serving databases from any [io.ReaderAt].
//
// The data never changes, so reader coordination is vacuous: SHARED is
// granted trivially, and levels that announce write intent fail. Useful
// for databases on read-only media, embedded in binaries, or fetched
// over the network with range requests.
//
// Importing the package registers the host:
//
//	import _ "github.com/ncruces/go-osl/readerosl"
package readerosl

import (
	"io"
	"sync"

	"github.com/ncruces/go-osl"
)

func init() {
	osl.Register("reader", Host{})
}

// A SizeReaderAt is the data source of a file: a ReaderAt with a known
// size.
type SizeReaderAt interface {
	io.ReaderAt
	Size() (int64, error)
}

var (
	readerMtx sync.RWMutex
	// +checklocks:readerMtx
	readerFiles = map[string]SizeReaderAt{}
)

// Create adds or replaces a file served from data.
func Create(name string, data SizeReaderAt) {
	readerMtx.Lock()
	defer readerMtx.Unlock()
	readerFiles[name] = data
}

// Delete removes a file.
func Delete(name string) {
	readerMtx.Lock()
	defer readerMtx.Unlock()
	delete(readerFiles, name)
}

// Host opens files previously added with [Create].
type Host struct{}

func (h Host) OpenReadWrite(name string) (osl.File, bool, error) {
	// Only the read-only mode can succeed here.
	fd, err := h.OpenReadOnly(name)
	return fd, true, err
}

func (Host) OpenExclusive(name string, delOnClose bool) (osl.File, error) {
	return nil, osl.CANTOPEN
}

func (Host) OpenReadOnly(name string) (osl.File, error) {
	readerMtx.RLock()
	defer readerMtx.RUnlock()
	data := readerFiles[name]
	if data == nil {
		return nil, osl.CANTOPEN
	}
	osl.OpenCounter(+1)
	return &readerFile{data: data}, nil
}

func (Host) OpenDirectory(name string) error {
	return nil
}

func (Host) Delete(name string) error {
	Delete(name)
	return nil
}

func (Host) Exists(name string) bool {
	readerMtx.RLock()
	defer readerMtx.RUnlock()
	return readerFiles[name] != nil
}

func (Host) FullPathname(name string) (string, error) {
	return name, nil
}

func (h Host) TempFilename() (string, error) {
	// Nothing can be created here for a temp file to land in.
	return "", osl.IOERR
}

type readerFile struct {
	data SizeReaderAt
	pos  int64
	lock osl.LockLevel
}

var _ osl.File = &readerFile{}

func (f *readerFile) Close() error {
	osl.OpenCounter(-1)
	return nil
}

func (f *readerFile) Seek(off int64) error {
	f.pos = off
	return nil
}

func (f *readerFile) Read(p []byte) error {
	n, err := f.data.ReadAt(p, f.pos)
	if err != nil || n != len(p) {
		return osl.IOERR
	}
	f.pos += int64(n)
	return nil
}

func (f *readerFile) Write(p []byte) error {
	return osl.IOERR
}

func (f *readerFile) Truncate(size int64) error {
	return osl.IOERR
}

func (f *readerFile) Size() (int64, error) {
	size, err := f.data.Size()
	if err != nil {
		return 0, osl.IOERR
	}
	return size, nil
}

func (f *readerFile) Sync() error {
	return nil
}

// Lock grants read levels trivially: the data cannot change, so every
// reader is always consistent. Write intent is refused.
func (f *readerFile) Lock(level osl.LockLevel) error {
	if level > osl.LOCK_SHARED {
		return osl.IOERR
	}
	if f.lock < level {
		f.lock = level
	}
	return nil
}

func (f *readerFile) Unlock() error {
	f.lock = osl.LOCK_NONE
	return nil
}

func (f *readerFile) CheckReservedLock() (bool, error) {
	return false, nil
}

func (f *readerFile) LockState() osl.LockLevel {
	return f.lock
}
