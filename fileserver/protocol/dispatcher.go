package protocol

import (
	"fmt"

	"filexfer/fileserver/metrics"
	"filexfer/wire"
)

// HandleCommand parses the raw command bytes read from the client and runs
// the matching handler. Anything that is not a valid command gets no
// response; the returned error tells the caller to close the connection.
func (h *CommandHandler) HandleCommand(raw []byte) error {
	cmd, err := wire.ParseCommand(raw)
	if err != nil {
		metrics.RecordConnectionError(metrics.ReasonUnknownCommand)
		return fmt.Errorf("rejected command: %w", err)
	}

	metrics.RecordCommand(cmd.Kind.String())
	h.session.LogPrintf("[COMMAND] %s", cmd)

	switch cmd.Kind {
	case wire.KindListFiles:
		return h.HandleFileList()
	case wire.KindDownload:
		return h.HandleDownload(cmd.Name)
	default:
		return fmt.Errorf("%w: %s", wire.ErrUnknownCommand, cmd.Kind)
	}
}
