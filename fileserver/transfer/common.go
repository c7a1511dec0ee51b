package transfer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"filexfer/filelock"
)

// SessionInterface is the part of a connection session the streaming code
// needs.
type SessionInterface interface {
	LogPrintf(format string, args ...interface{})
}

// LockResult contains information about a file lock acquisition
type LockResult struct {
	LockType   string        // "shared" or "exclusive"
	WaitTime   time.Duration // Time spent waiting for the lock
	AcquiredAt time.Time
	FileInfo   string
	// LockDuration is set when the lock is released
	LockDuration time.Duration
}

// TimedFileLocker polls for an advisory lock and records how long it waited.
type TimedFileLocker struct {
	file       *os.File
	exclusive  bool
	lockResult *LockResult
	acquired   bool
	mutex      sync.Mutex

	notifyAfter  time.Duration
	pollInterval time.Duration
	timeout      time.Duration
}

// NewTimedFileLocker creates a new timed file locker
func NewTimedFileLocker(file *os.File, exclusive bool) *TimedFileLocker {
	return &TimedFileLocker{
		file:         file,
		exclusive:    exclusive,
		notifyAfter:  2 * time.Second,
		pollInterval: 100 * time.Millisecond,
		timeout:      30 * time.Second,
	}
}

// AcquireLockWithNotification acquires the lock, calling notifyFunc once if
// the wait gets long.
func (tfl *TimedFileLocker) AcquireLockWithNotification(notifyFunc func(time.Duration)) (*LockResult, error) {
	tfl.mutex.Lock()
	defer tfl.mutex.Unlock()

	if tfl.acquired {
		return tfl.lockResult, fmt.Errorf("lock already acquired")
	}

	lockType := "shared"
	try := filelock.TrySharedLock
	if tfl.exclusive {
		lockType = "exclusive"
		try = filelock.TryExclusiveLock
	}

	startTime := time.Now()
	var notificationSent bool
	for {
		if try(tfl.file) {
			tfl.lockResult = &LockResult{
				LockType:   lockType,
				WaitTime:   time.Since(startTime),
				AcquiredAt: time.Now(),
				FileInfo:   tfl.file.Name(),
			}
			tfl.acquired = true
			return tfl.lockResult, nil
		}

		waitTime := time.Since(startTime)
		if !notificationSent && waitTime >= tfl.notifyAfter {
			if notifyFunc != nil {
				notifyFunc(waitTime)
			}
			notificationSent = true
		}
		if waitTime > tfl.timeout {
			return nil, fmt.Errorf("timeout waiting for %s lock on %s after %v: %w", lockType, tfl.file.Name(), waitTime, filelock.ErrLocked)
		}

		time.Sleep(tfl.pollInterval)
	}
}

// ReleaseLock releases the acquired lock
func (tfl *TimedFileLocker) ReleaseLock() error {
	tfl.mutex.Lock()
	defer tfl.mutex.Unlock()

	if !tfl.acquired {
		return fmt.Errorf("no lock to release")
	}

	filelock.Unlock(tfl.file)
	tfl.acquired = false
	if tfl.lockResult != nil {
		tfl.lockResult.LockDuration = time.Since(tfl.lockResult.AcquiredAt)
	}
	return nil
}

// TransferTimer helps track transfer timing excluding lock wait time
type TransferTimer struct {
	transferStart time.Time
	lockResult    *LockResult
}

// TimingReport contains transfer timing information
type TimingReport struct {
	TransferTime  time.Duration // Actual transfer time (excluding lock wait)
	TotalTime     time.Duration // Total time including lock wait
	LockWaitTime  time.Duration
	TransferSpeed float64 // MB/s over TransferTime
}

// NewTransferTimer creates a new transfer timer
func NewTransferTimer(lockResult *LockResult) *TransferTimer {
	return &TransferTimer{
		transferStart: time.Now(),
		lockResult:    lockResult,
	}
}

// CalculateSpeed returns the current speed in MB/s and the elapsed transfer time.
func (tt *TransferTimer) CalculateSpeed(bytesTransferred int64) (float64, time.Duration) {
	elapsed := time.Since(tt.transferStart)
	if elapsed > 0 {
		return float64(bytesTransferred) / (1024 * 1024) / elapsed.Seconds(), elapsed
	}
	return 0, 0
}

// GetTimingReport generates the final timing report
func (tt *TransferTimer) GetTimingReport(totalBytes int64) TimingReport {
	transferTime := time.Since(tt.transferStart)
	totalTime := transferTime
	var lockWaitTime time.Duration
	if tt.lockResult != nil {
		lockWaitTime = tt.lockResult.WaitTime
		totalTime += lockWaitTime
	}

	var transferSpeed float64
	if transferTime > 0 {
		transferSpeed = float64(totalBytes) / (1024 * 1024) / transferTime.Seconds()
	}

	return TimingReport{
		TransferTime:  transferTime,
		TotalTime:     totalTime,
		LockWaitTime:  lockWaitTime,
		TransferSpeed: transferSpeed,
	}
}
