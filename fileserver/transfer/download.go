package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrTruncated means the file ended before the size the listing announced.
var ErrTruncated = errors.New("file shorter than listed size")

// Result describes a finished stream.
type Result struct {
	Bytes  int64
	Chunks int
	Timing TimingReport
}

// StreamFile writes exactly size bytes of the file at path to w, chunkSize
// bytes per write. The file is held under a shared lock for the duration so
// concurrent downloads of the same file proceed together.
//
// The byte count is fixed up front because the client stops reading at the
// size it learned from the listing. A file that grew is cut at size and one
// that shrank fails with ErrTruncated.
func StreamFile(session SessionInterface, w io.Writer, path string, size int64, chunkSize int) (Result, error) {
	if chunkSize <= 0 {
		return Result{}, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	locker := NewTimedFileLocker(file, false)
	lockResult, err := locker.AcquireLockWithNotification(func(waited time.Duration) {
		session.LogPrintf("Waiting for lock on %s (%v)", path, waited.Round(time.Millisecond))
	})
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if unlockErr := locker.ReleaseLock(); unlockErr != nil {
			session.LogPrintf("Warning: failed to unlock file: %v", unlockErr)
		}
	}()

	transferTimer := NewTransferTimer(lockResult)
	buf := make([]byte, chunkSize)
	var result Result
	var lastLogTime time.Time

	for result.Bytes < size {
		want := int64(len(buf))
		if remaining := size - result.Bytes; remaining < want {
			want = remaining
		}

		n, readErr := io.ReadFull(file, buf[:want])
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return result, fmt.Errorf("failed to send chunk %d: %w", result.Chunks+1, err)
			}
			result.Bytes += int64(n)
			result.Chunks++

			speed, elapsed := transferTimer.CalculateSpeed(result.Bytes)
			if elapsed >= 5*time.Second && time.Since(lastLogTime) >= 5*time.Second {
				session.LogPrintf("Transfer progress: %d/%d bytes (%.2f MB/s, transfer time: %v)",
					result.Bytes, size, speed, elapsed.Round(time.Millisecond))
				lastLogTime = time.Now()
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return result, fmt.Errorf("%w: %s has %d of %d bytes", ErrTruncated, path, result.Bytes, size)
		}
		if readErr != nil {
			return result, fmt.Errorf("read error during transfer: %w", readErr)
		}
	}

	result.Timing = transferTimer.GetTimingReport(result.Bytes)
	return result, nil
}
