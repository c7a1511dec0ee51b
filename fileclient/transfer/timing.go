package transfer

import (
	"fmt"
	"time"
)

// TransferTimer helps calculate accurate transfer speeds excluding the time
// spent connecting and locking the destination
type TransferTimer struct {
	setupStart    time.Time
	transferStart time.Time
}

// NewTransferTimer starts the setup clock.
func NewTransferTimer() *TransferTimer {
	now := time.Now()
	return &TransferTimer{setupStart: now, transferStart: now}
}

// StartTransfer marks the moment the first byte is requested.
func (tt *TransferTimer) StartTransfer() {
	tt.transferStart = time.Now()
}

// CalculateSpeed calculates transfer speed in MB/s excluding setup time
func (tt *TransferTimer) CalculateSpeed(bytesTransferred int64) (float64, time.Duration) {
	transferDuration := time.Since(tt.transferStart)
	if transferDuration.Seconds() == 0 {
		return 0, transferDuration
	}

	speedMBps := float64(bytesTransferred) / transferDuration.Seconds() / (1024 * 1024)
	return speedMBps, transferDuration
}

// GetTimingReport returns a detailed timing report
func (tt *TransferTimer) GetTimingReport(bytesTransferred int64) TimingReport {
	speedMBps, transferDuration := tt.CalculateSpeed(bytesTransferred)
	setup := tt.transferStart.Sub(tt.setupStart)

	return TimingReport{
		SetupTime:        setup,
		TransferTime:     transferDuration,
		TotalTime:        setup + transferDuration,
		BytesTransferred: bytesTransferred,
		TransferSpeed:    speedMBps,
	}
}

// TimingReport contains detailed timing information for a file operation
type TimingReport struct {
	SetupTime        time.Duration // lock, connect and request
	TransferTime     time.Duration
	TotalTime        time.Duration
	BytesTransferred int64
	TransferSpeed    float64 // MB/s over TransferTime
}

// String returns a formatted string representation of the timing report
func (tr *TimingReport) String() string {
	return fmt.Sprintf(
		"Setup: %v, Transfer: %v (%.2f MB/s), Total: %v, Bytes: %d",
		tr.SetupTime.Round(time.Millisecond),
		tr.TransferTime.Round(time.Millisecond),
		tr.TransferSpeed,
		tr.TotalTime.Round(time.Millisecond),
		tr.BytesTransferred,
	)
}
