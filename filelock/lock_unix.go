//go:build !windows

package filelock

import (
	"os"

	"golang.org/x/sys/unix"
)

// TryExclusiveLock attempts to acquire an exclusive lock on the file
func TryExclusiveLock(file *os.File) bool {
	if file == nil {
		return false
	}
	return unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB) == nil
}

// TrySharedLock attempts to acquire a shared lock on the file for read operations
func TrySharedLock(file *os.File) bool {
	if file == nil {
		return false
	}
	return unix.Flock(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB) == nil
}

// Unlock releases any lock held on the file.
func Unlock(file *os.File) {
	if file == nil {
		return
	}
	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
