package transfer

import (
	"errors"
	"fmt"

	"filexfer/wire"
)

// Kind classifies why a session did not finish.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindProtocol
	KindLocalIO
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindLocalIO:
		return "local I/O"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrConnectFailed    = errors.New("could not connect to server")
	ErrBrokenConnection = errors.New("connection closed before transfer completed")
	ErrTimeout          = errors.New("timed out waiting for server")
	ErrCancelled        = errors.New("transfer cancelled")
	// ErrUnknownFile is returned when a download is requested for a name the
	// last listing did not contain.
	ErrUnknownFile = errors.New("file not in listing")
)

// Error is the terminal error of a session.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or 0 when err is not a session error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	if wire.IsProtocolError(err) {
		return KindProtocol
	}
	return 0
}

func connectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func protocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func localIOError(op string, err error) error {
	return &Error{Kind: KindLocalIO, Op: op, Err: err}
}

func cancelledError(op string) error {
	return &Error{Kind: KindCancelled, Op: op, Err: ErrCancelled}
}
