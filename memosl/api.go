// Package memosl implements an in-process, in-memory host for the OS
// abstraction layer.
//
// All descriptors opened through it share one process-wide namespace,
// and its byte-range lock table has the same non-blocking advisory
// semantics the platform host gets from its kernel, so the full lock
// protocol runs unchanged against it. That makes it the host of choice
// for tests and for throwaway databases that never touch disk.
//
// Importing the package registers the default host:
//
//	import _ "github.com/ncruces/go-osl/memosl"
package memosl

import (
	"fmt"
	"path"
	"sync"
	"testing"

	"github.com/edofic/go-ordmap/v2"
	"github.com/ncruces/go-osl"
)

func init() {
	osl.Register("mem", Host{})
}

// Host opens files in the process-wide in-memory namespace.
type Host struct {
	// Legacy makes descriptors behave as if the host had no reader
	// locks: shared range requests are taken exclusively, and readers
	// hold a single randomly chosen pool byte instead of the whole
	// region. Descriptors of both kinds may share a file.
	Legacy bool
}

var (
	memoryMtx sync.Mutex
	// +checklocks:memoryMtx
	memoryFiles = map[string]*memFile{}
)

// Create creates or replaces a file, using data as its initial
// contents. The file takes ownership of data.
func Create(name string, data []byte) {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()

	f := &memFile{
		name: fullname(name),
		data: ordmap.NewBuiltin[int64, []byte](),
		size: int64(len(data)),
	}
	sectors := (f.size + sectorSize - 1) / sectorSize
	for i := int64(0); i < sectors; i++ {
		sector := make([]byte, sectorSize)
		copy(sector, data[i*sectorSize:])
		f.data = f.data.Insert(i, sector)
	}
	memoryFiles[f.name] = f
}

// Delete removes a file. Open descriptors keep their backing data.
func Delete(name string) {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()
	delete(memoryFiles, fullname(name))
}

// TestFilename returns the name of an empty file for the test to use.
// The file is deleted when the test and all its subtests complete.
// Each test and subtest gets its own name; calling it again from the
// same test returns the same name and replaces that file with an empty
// one.
func TestFilename(tb testing.TB) string {
	tb.Helper()

	name := fmt.Sprintf("/%s_%p", tb.Name(), tb)
	tb.Cleanup(func() { Delete(name) })
	Create(name, nil)
	return name
}

// fullname is the canonical absolute form of a file name.
func fullname(name string) string {
	if len(name) == 0 || name[0] != '/' {
		name = "/" + name
	}
	return path.Clean(name)
}

func (h Host) OpenReadWrite(name string) (osl.File, bool, error) {
	fd, err := h.open(name, true, false)
	if err != nil {
		return nil, false, err
	}
	return fd, false, nil
}

func (h Host) OpenExclusive(name string, delOnClose bool) (osl.File, error) {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()

	full := fullname(name)
	if f := memoryFiles[full]; f != nil && f.refs > 0 {
		return nil, osl.CANTOPEN
	}
	f := &memFile{
		name:       full,
		data:       ordmap.NewBuiltin[int64, []byte](),
		refs:       1,
		noShare:    true,
		delOnClose: delOnClose,
	}
	memoryFiles[full] = f
	return h.newHandle(f, false), nil
}

func (h Host) OpenReadOnly(name string) (osl.File, error) {
	fd, err := h.open(name, false, true)
	if err != nil {
		return nil, err
	}
	return fd, nil
}

// OpenDirectory is a no-op: directories are not first-class here.
func (Host) OpenDirectory(name string) error {
	return nil
}

func (Host) Delete(name string) error {
	Delete(name)
	return nil
}

func (Host) Exists(name string) bool {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()
	return memoryFiles[fullname(name)] != nil
}

func (Host) FullPathname(name string) (string, error) {
	return fullname(name), nil
}

func (h Host) TempFilename() (string, error) {
	return osl.TempFilename("/tmp/"+osl.TempFilePrefix, h.Exists), nil
}

func (h Host) open(name string, create, readOnly bool) (*memHandle, error) {
	memoryMtx.Lock()
	defer memoryMtx.Unlock()

	full := fullname(name)
	f := memoryFiles[full]
	switch {
	case f == nil:
		if !create {
			return nil, osl.CANTOPEN
		}
		f = &memFile{
			name: full,
			data: ordmap.NewBuiltin[int64, []byte](),
		}
		memoryFiles[full] = f
	case f.noShare:
		return nil, osl.CANTOPEN
	}
	f.refs++
	return h.newHandle(f, readOnly), nil
}

// +checklocks:memoryMtx
func (h Host) newHandle(f *memFile, readOnly bool) *memHandle {
	fd := &memHandle{
		memFile:  f,
		readOnly: readOnly,
		legacy:   h.Legacy,
	}
	fd.FileLock = osl.NewFileLock(fd, !h.Legacy)
	osl.OpenCounter(+1)
	return fd
}
