package osl

import (
	"io"
	"sync/atomic"

	"golang.org/x/sys/windows"
)

func init() {
	Register("os", osHost{})
}

// Host-variant cache: 0 unknown, 1 legacy, 2 modern.
// Warmed before the first lock is taken.
var hostVariant atomic.Uint32

// isLegacy reports whether the host only has single-mode byte-range
// locks (the 9x family). Modern hosts expose reader/writer locks, which
// the lock protocol exploits for true multi-reader concurrency.
func isLegacy() bool {
	v := hostVariant.Load()
	if v == 0 {
		// The high bit of GetVersion distinguishes the families.
		ver, _ := windows.GetVersion()
		if ver&0x80000000 != 0 {
			v = 1
		} else {
			v = 2
		}
		hostVariant.Store(v)
	}
	return v == 1
}

// LockFile and UnlockFile are not exported by x/sys; they are only ever
// called on hosts where LockFileEx is unavailable.
var (
	kernel32       = windows.NewLazySystemDLL("kernel32.dll")
	procLockFile   = kernel32.NewProc("LockFile")
	procUnlockFile = kernel32.NewProc("UnlockFile")
)

func legacyLockFile(h windows.Handle, start, n uint32) bool {
	r, _, _ := procLockFile.Call(uintptr(h),
		uintptr(start), 0, uintptr(n), 0)
	return r != 0
}

func legacyUnlockFile(h windows.Handle, start, n uint32) bool {
	r, _, _ := procUnlockFile.Call(uintptr(h),
		uintptr(start), 0, uintptr(n), 0)
	return r != 0
}

type osHost struct{}

type osFile struct {
	FileLock
	handle windows.Handle
}

func newOSFile(h windows.Handle) *osFile {
	f := &osFile{handle: h}
	f.FileLock = NewFileLock(f, !isLegacy())
	OpenCounter(+1)
	return f
}

func openHandle(name string, access, share, disposition, attrs uint32) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return windows.InvalidHandle, err
	}
	return windows.CreateFile(p, access, share, nil, disposition, attrs, 0)
}

func (osHost) OpenReadWrite(name string) (File, bool, error) {
	h, err := openHandle(name,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_RANDOM_ACCESS)
	if err == nil {
		trace("OPEN R/W %d %q", h, name)
		return newOSFile(h), false, nil
	}
	h, err = openHandle(name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_RANDOM_ACCESS)
	if err != nil {
		return nil, false, CANTOPEN
	}
	trace("OPEN R/O %d %q", h, name)
	return newOSFile(h), true, nil
}

func (osHost) OpenExclusive(name string, delOnClose bool) (File, error) {
	attrs := uint32(windows.FILE_FLAG_RANDOM_ACCESS)
	if delOnClose {
		attrs = windows.FILE_ATTRIBUTE_TEMPORARY |
			windows.FILE_FLAG_RANDOM_ACCESS |
			windows.FILE_FLAG_DELETE_ON_CLOSE
	}
	h, err := openHandle(name,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, windows.CREATE_ALWAYS, attrs)
	if err != nil {
		return nil, CANTOPEN
	}
	trace("OPEN EX %d %q", h, name)
	return newOSFile(h), nil
}

func (osHost) OpenReadOnly(name string) (File, error) {
	h, err := openHandle(name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_RANDOM_ACCESS)
	if err != nil {
		return nil, CANTOPEN
	}
	trace("OPEN RO %d %q", h, name)
	return newOSFile(h), nil
}

// OpenDirectory is a no-op: this host does not need directory entries
// synced for a created file to survive power loss.
func (osHost) OpenDirectory(name string) error {
	return nil
}

func (osHost) Delete(name string) error {
	if p, err := windows.UTF16PtrFromString(name); err == nil {
		_ = windows.DeleteFile(p)
	}
	trace("DELETE %q", name)
	return nil
}

func (osHost) Exists(name string) bool {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return false
	}
	_, err = windows.GetFileAttributes(p)
	return err == nil
}

func (osHost) FullPathname(name string) (string, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return "", CANTOPEN
	}
	n, err := windows.GetFullPathName(p, 0, nil, nil)
	if err != nil {
		return "", CANTOPEN
	}
	buf := make([]uint16, n+1)
	var base *uint16
	if _, err := windows.GetFullPathName(p, uint32(len(buf)), &buf[0], &base); err != nil {
		return "", CANTOPEN
	}
	return windows.UTF16ToString(buf), nil
}

func (h osHost) TempFilename() (string, error) {
	var buf [windows.MAX_PATH + 1]uint16
	n, err := windows.GetTempPath(uint32(len(buf)), &buf[0])
	if err != nil || n == 0 {
		return "", IOERR
	}
	dir := windows.UTF16ToString(buf[:n])
	for len(dir) > 0 && dir[len(dir)-1] == '\\' {
		dir = dir[:len(dir)-1]
	}
	return TempFilename(dir+`\`+TempFilePrefix, h.Exists), nil
}

func (f *osFile) Read(p []byte) error {
	if simulateIOError("read") {
		return IOERR
	}
	trace("READ %d", f.handle)
	var got uint32
	err := windows.ReadFile(f.handle, p, &got, nil)
	if err != nil || int(got) != len(p) {
		return IOERR
	}
	return nil
}

func (f *osFile) Write(p []byte) error {
	if simulateIOError("write") {
		return IOERR
	}
	trace("WRITE %d", f.handle)
	for len(p) > 0 {
		var wrote uint32
		err := windows.WriteFile(f.handle, p, &wrote, nil)
		if err != nil || wrote == 0 {
			return FULL
		}
		p = p[wrote:]
	}
	return nil
}

// Seek ignores the host status; errors surface on the next read or
// write. This matches what the pager expects.
func (f *osFile) Seek(off int64) error {
	trace("SEEK %d %d", f.handle, off)
	_, _ = windows.Seek(f.handle, off, io.SeekStart)
	return nil
}

func (f *osFile) Truncate(size int64) error {
	if simulateIOError("truncate") {
		return IOERR
	}
	trace("TRUNCATE %d %d", f.handle, size)
	_, _ = windows.Seek(f.handle, size, io.SeekStart)
	_ = windows.SetEndOfFile(f.handle)
	return nil
}

func (f *osFile) Size() (int64, error) {
	if simulateIOError("fstat") {
		return 0, IOERR
	}
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(f.handle, &info); err != nil {
		return 0, IOERR
	}
	return int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow), nil
}

func (f *osFile) Sync() error {
	trace("SYNC %d", f.handle)
	if err := windows.FlushFileBuffers(f.handle); err != nil {
		return IOERR
	}
	return nil
}

func (f *osFile) Close() error {
	// The host would release any held ranges with the handle, but the
	// descriptor's lock state is kept honest regardless.
	if f.LockState() != LOCK_NONE {
		_ = f.Unlock()
	}
	_ = windows.CloseHandle(f.handle)
	OpenCounter(-1)
	return nil
}

func (f *osFile) LockShared(start, n uint32) bool {
	if isLegacy() {
		// No reader locks: callers get exclusive semantics.
		return legacyLockFile(f.handle, start, n)
	}
	ovlp := windows.Overlapped{Offset: start}
	err := windows.LockFileEx(f.handle,
		windows.LOCKFILE_FAIL_IMMEDIATELY, 0, n, 0, &ovlp)
	return err == nil
}

func (f *osFile) LockExclusive(start, n uint32) bool {
	if isLegacy() {
		return legacyLockFile(f.handle, start, n)
	}
	ovlp := windows.Overlapped{Offset: start}
	err := windows.LockFileEx(f.handle,
		windows.LOCKFILE_FAIL_IMMEDIATELY|windows.LOCKFILE_EXCLUSIVE_LOCK,
		0, n, 0, &ovlp)
	return err == nil
}

func (f *osFile) UnlockRange(start, n uint32) bool {
	if isLegacy() {
		return legacyUnlockFile(f.handle, start, n)
	}
	ovlp := windows.Overlapped{Offset: start}
	return windows.UnlockFileEx(f.handle, 0, n, 0, &ovlp) == nil
}
