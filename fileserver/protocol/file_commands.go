package protocol

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"filexfer/fileserver/metrics"
	"filexfer/fileserver/transfer"
	"filexfer/wire"
)

// HandleFileList sends one record per catalog entry, waiting for the
// client's acknowledgment after each, then the END marker.
func (h *CommandHandler) HandleFileList() error {
	scan, err := h.session.GetCatalog().Scan()
	if err != nil {
		metrics.RecordConnectionError(metrics.ReasonCatalog)
		return fmt.Errorf("listing failed: %w", err)
	}
	if merr, ok := scan.Skipped.(*multierror.Error); ok {
		h.session.LogPrintf("[FILE_LIST] Skipped %d entries: %v", len(merr.Errors), merr)
	}

	for _, entry := range scan.Entries {
		record, err := wire.EncodeRecord(entry)
		if err != nil {
			metrics.RecordConnectionError(metrics.ReasonProtocol)
			return err
		}
		if _, err := h.session.Write(record); err != nil {
			metrics.RecordConnectionError(metrics.ReasonIO)
			return fmt.Errorf("failed to send record %s: %w", entry.Name, err)
		}
		if err := wire.ReadAck(h.session); err != nil {
			metrics.RecordConnectionError(metrics.ReasonProtocol)
			return fmt.Errorf("no acknowledgment for %s: %w", entry.Name, err)
		}
		metrics.RecordListingEntry()
	}

	if _, err := h.session.Write([]byte(wire.EndMarker)); err != nil {
		metrics.RecordConnectionError(metrics.ReasonIO)
		return fmt.Errorf("failed to send end marker: %w", err)
	}

	h.session.LogPrintf("[FILE_LIST] Listing sent: %d files", len(scan.Entries))
	return nil
}

// HandleDownload streams the named file and waits for the single final
// acknowledgment.
func (h *CommandHandler) HandleDownload(name string) error {
	return h.withExistingFile(name, func(path string, size int64) error {
		h.session.LogPrintf("[DOWNLOAD] Sending %s (%d bytes)", name, size)

		result, err := transfer.StreamFile(h.session, h.session, path, size, h.session.GetChunkSize())
		if err != nil {
			metrics.RecordDownload(result.Bytes, 0, false)
			metrics.RecordConnectionError(metrics.ReasonIO)
			return fmt.Errorf("download %s: %w", name, err)
		}

		if err := wire.ReadAck(h.session); err != nil {
			metrics.RecordDownload(result.Bytes, 0, false)
			metrics.RecordConnectionError(metrics.ReasonProtocol)
			return fmt.Errorf("download %s not acknowledged: %w", name, err)
		}

		metrics.RecordDownload(result.Bytes, result.Timing.TransferTime, true)
		h.session.LogPrintf("[DOWNLOAD] File sent: %s (%d bytes in %d chunks, %.2f MB/s, %v total time)",
			name, result.Bytes, result.Chunks, result.Timing.TransferSpeed, result.Timing.TotalTime.Round(time.Millisecond))
		return nil
	})
}
