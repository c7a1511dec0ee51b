package perfmetrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CsvHeader defines the CSV header for performance logging
const CsvHeader = "Timestamp,Client,Server,FileName,FileSizeMB,Chunks,ThroughputMBps,TimeSec,Outcome\n"

// Record is one completed transfer.
type Record struct {
	Client         string // defaults to the hostname
	Server         string
	FileName       string
	FileSize       int64
	Chunks         uint64
	ThroughputMBps float64
	Duration       time.Duration
	Outcome        string
	Timestamp      time.Time // defaults to now
}

// LogPerformanceToCSV appends record to the CSV file at path, writing the
// header first when the file is new.
func LogPerformanceToCSV(path string, record Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Check if file exists to determine if we need to write header
	fileExists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	if !fileExists {
		if _, err := file.WriteString(CsvHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	if record.FileName == "" {
		return fmt.Errorf("FileName is required")
	}
	if record.Client == "" {
		if host, err := os.Hostname(); err == nil {
			record.Client = host
		} else {
			record.Client = "filexfer_client"
		}
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	writer := csv.NewWriter(file)
	row := []string{
		record.Timestamp.Format(time.RFC3339),
		record.Client,
		record.Server,
		record.FileName,
		strconv.FormatFloat(float64(record.FileSize)/(1024*1024), 'f', 2, 64),
		strconv.FormatUint(record.Chunks, 10),
		strconv.FormatFloat(record.ThroughputMBps, 'f', 2, 64),
		strconv.FormatFloat(record.Duration.Seconds(), 'f', 2, 64),
		record.Outcome,
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}

	// Ensure data is written to disk
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}
