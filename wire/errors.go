package wire

import "errors"

// Protocol violations. Every one of them is a ProtocolError for the session
// or connection that observes it.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrCommandTooLong  = errors.New("command exceeds maximum size")
	ErrMalformedRecord = errors.New("malformed listing record")
	ErrInvalidName     = errors.New("invalid file name")
	ErrBadAck          = errors.New("unexpected acknowledgment")
)

// IsProtocolError reports whether err is caused by a wire format violation.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrCommandTooLong) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrBadAck)
}
