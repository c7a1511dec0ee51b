package transfer

import (
	"fmt"

	"filexfer/wire"
)

// EventType tags the variant carried by an Event.
type EventType int

const (
	EventEntryReceived EventType = iota + 1
	EventProgress
	EventCompleted
)

func (t EventType) String() string {
	switch t {
	case EventEntryReceived:
		return "EntryReceived"
	case EventProgress:
		return "Progress"
	case EventCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Outcome is the terminal state of a session.
type Outcome int

const (
	OutcomeFinished Outcome = iota + 1
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Progress is the cumulative state of a download after a chunk was written.
type Progress struct {
	ChunksReceived uint64
	BytesReceived  uint64
}

// Event is emitted by a session. Only the fields of its Type are set:
// Entry for EntryReceived, Progress for Progress, and Outcome, Err and
// Timing for Completed.
type Event struct {
	Type      EventType
	SessionID string
	Command   wire.Command

	Entry    wire.FileEntry
	Progress Progress

	Outcome Outcome
	Err     error
	// Timing is set on a finished download.
	Timing *TimingReport
}

// EventHandler receives session events. It runs on the session goroutine,
// in order, with the Completed event last. It must not block on the
// session or the coordinator that owns it.
type EventHandler func(Event)
