//go:build windows

package filelock

import (
	"os"

	"golang.org/x/sys/windows"
)

const maxUint32 = ^uint32(0)

// TryExclusiveLock attempts to acquire an exclusive lock on the file
func TryExclusiveLock(file *os.File) bool {
	if file == nil {
		return false
	}
	handle := windows.Handle(file.Fd())
	ol := new(windows.Overlapped)

	// Lock the entire file exclusively (non-blocking)
	err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, maxUint32, maxUint32, ol)
	return err == nil
}

// TrySharedLock attempts to acquire a shared lock on the file for read operations
func TrySharedLock(file *os.File) bool {
	if file == nil {
		return false
	}
	handle := windows.Handle(file.Fd())
	ol := new(windows.Overlapped)

	err := windows.LockFileEx(handle, windows.LOCKFILE_FAIL_IMMEDIATELY, 0, maxUint32, maxUint32, ol)
	return err == nil
}

// Unlock releases any lock held on the file.
func Unlock(file *os.File) {
	if file == nil {
		return
	}
	handle := windows.Handle(file.Fd())
	ol := new(windows.Overlapped)
	_ = windows.UnlockFileEx(handle, 0, maxUint32, maxUint32, ol)
}
