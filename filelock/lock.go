// Package filelock provides non-blocking advisory whole-file locks.
package filelock

import (
	"errors"
	"os"
)

// ErrLocked is returned when another process or handle holds a conflicting lock.
var ErrLocked = errors.New("file is locked")

// Exclusive takes a non-blocking exclusive lock on file.
func Exclusive(file *os.File) error {
	if file == nil {
		return os.ErrInvalid
	}
	if !TryExclusiveLock(file) {
		return ErrLocked
	}
	return nil
}

// Shared takes a non-blocking shared lock on file.
func Shared(file *os.File) error {
	if file == nil {
		return os.ErrInvalid
	}
	if !TrySharedLock(file) {
		return ErrLocked
	}
	return nil
}
