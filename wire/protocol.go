// Package wire defines the commands and records exchanged between the file
// server and its clients.
//
// There is no length-prefixed envelope. A client sends exactly one command
// per connection (FILE_LIST or DOWNLOAD <name>). A listing is answered with
// "<name>,<size>" records, each acknowledged by the client with OK, followed
// by an unacknowledged END marker. A download is answered with the raw file
// bytes, after which the server waits for a single OK.
package wire

import (
	"bytes"
	"fmt"
	"strings"
)

// Protocol literals
const (
	CmdFileList       = "FILE_LIST"
	CmdDownload       = "DOWNLOAD"
	downloadPrefix    = CmdDownload + " "
	Ack               = "OK"
	EndMarker         = "END"
	RecordSeparator   = ","
	MaxCommandSize    = 2048 // the server reads the whole command in one read of this size
	MaxRecordSize     = 2048
	DefaultPort       = 10000
	DefaultChunkSize  = 1024 // server disk-read/socket-write chunk
	DefaultReadChunk  = 2048 // client socket-read chunk
	MinChunkSize      = 512
	MaxChunkSize      = 1024 * 1024
	maxNameLength     = MaxCommandSize - len(downloadPrefix)
)

// CommandKind selects listing or download behaviour for a connection.
type CommandKind int

const (
	KindListFiles CommandKind = iota
	KindDownload
)

func (k CommandKind) String() string {
	switch k {
	case KindListFiles:
		return CmdFileList
	case KindDownload:
		return CmdDownload
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is the single message a client sends at the start of a connection.
type Command struct {
	Kind CommandKind
	Name string // only set for KindDownload
}

// ListFiles returns the FILE_LIST command.
func ListFiles() Command {
	return Command{Kind: KindListFiles}
}

// Download returns the DOWNLOAD command for name.
func Download(name string) Command {
	return Command{Kind: KindDownload, Name: name}
}

func (c Command) String() string {
	if c.Kind == KindDownload {
		return downloadPrefix + c.Name
	}
	return c.Kind.String()
}

// Encode validates the command and returns its wire form.
func (c Command) Encode() ([]byte, error) {
	switch c.Kind {
	case KindListFiles:
		return []byte(CmdFileList), nil
	case KindDownload:
		if err := ValidateName(c.Name); err != nil {
			return nil, err
		}
		return []byte(downloadPrefix + c.Name), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownCommand, int(c.Kind))
	}
}

// ParseCommand decodes the raw bytes of a single command read from a client.
// FILE_LIST must match exactly. For DOWNLOAD the name is everything after the
// first space.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) > MaxCommandSize {
		return Command{}, ErrCommandTooLong
	}
	if bytes.Equal(raw, []byte(CmdFileList)) {
		return ListFiles(), nil
	}

	text := string(raw)
	if !strings.HasPrefix(text, downloadPrefix) {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(text, 32))
	}
	name := text[len(downloadPrefix):]
	if err := ValidateName(name); err != nil {
		return Command{}, err
	}
	return Download(name), nil
}

// IsAck reports whether msg is the acknowledgment literal.
func IsAck(msg []byte) bool {
	return bytes.Equal(msg, []byte(Ack))
}

// IsEnd reports whether msg is the listing terminator.
func IsEnd(msg []byte) bool {
	return bytes.Equal(msg, []byte(EndMarker))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
