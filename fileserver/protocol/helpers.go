package protocol

import (
	"errors"
	"fmt"

	"filexfer/fileserver/catalog"
	"filexfer/fileserver/metrics"
)

func (h *CommandHandler) withExistingFile(name string, handler func(path string, size int64) error) error {
	path, size, err := h.session.GetCatalog().Lookup(name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			metrics.RecordConnectionError(metrics.ReasonNotFound)
			h.session.LogPrintf("[DOWNLOAD] File not found: %s", name)
		} else {
			metrics.RecordConnectionError(metrics.ReasonCatalog)
		}
		return fmt.Errorf("download %s: %w", name, err)
	}
	return handler(path, size)
}
