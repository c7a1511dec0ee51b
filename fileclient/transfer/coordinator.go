package transfer

import (
	"fmt"
	"sync"

	"filexfer/logging"
	"filexfer/wire"
)

// Coordinator owns at most one active session. Starting a new action first
// cancels the running session and waits for its Completed event, so events
// of two sessions never interleave.
type Coordinator struct {
	cfg     Config
	handler EventHandler

	mu     sync.Mutex
	active *Session

	// guarded by listMu, written from session goroutines
	listMu  sync.Mutex
	pending []wire.FileEntry
	entries []wire.FileEntry
}

// NewCoordinator creates a coordinator that forwards every event to handler.
func NewCoordinator(cfg Config, handler EventHandler) *Coordinator {
	return &Coordinator{cfg: cfg, handler: handler}
}

// RequestListing replaces any active session with a listing session.
func (c *Coordinator) RequestListing() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopActiveLocked()
	c.listMu.Lock()
	c.pending = nil
	c.listMu.Unlock()

	session := NewListingSession(c.cfg, NewCancelToken(), c.forward)
	c.startLocked(session)
	return session
}

// RequestDownload replaces any active session with a download of name.
// size must be the size the server listed for name.
func (c *Coordinator) RequestDownload(name string, size uint64) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopActiveLocked()
	session := NewDownloadSession(c.cfg, wire.FileEntry{Name: name, Size: size}, NewCancelToken(), c.forward)
	c.startLocked(session)
	return session
}

// RequestDownloadByName downloads a file from the last finished listing.
func (c *Coordinator) RequestDownloadByName(name string) (*Session, error) {
	entry, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
	return c.RequestDownload(entry.Name, entry.Size), nil
}

// Stop cancels the active session, if any, and waits for it to complete.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopActiveLocked()
}

// Wait blocks until the active session, if any, completes.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	session := c.active
	c.mu.Unlock()
	if session != nil {
		<-session.Done()
	}
}

// Active returns the session started last, or nil.
func (c *Coordinator) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Entries returns the result of the last listing that finished.
func (c *Coordinator) Entries() []wire.FileEntry {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	return append([]wire.FileEntry(nil), c.entries...)
}

// Lookup finds name in the last finished listing.
func (c *Coordinator) Lookup(name string) (wire.FileEntry, bool) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, true
		}
	}
	return wire.FileEntry{}, false
}

func (c *Coordinator) stopActiveLocked() {
	if c.active == nil {
		return
	}
	c.active.Stop()
	<-c.active.Done()
	logging.S().Debugf("Stopped session %s", c.active.ID())
	c.active = nil
}

func (c *Coordinator) startLocked(session *Session) {
	c.active = session
	session.Start()
}

// forward caches listing results and passes every event on unchanged.
func (c *Coordinator) forward(e Event) {
	if e.Command.Kind == wire.KindListFiles {
		c.listMu.Lock()
		switch e.Type {
		case EventEntryReceived:
			c.pending = append(c.pending, e.Entry)
		case EventCompleted:
			if e.Outcome == OutcomeFinished {
				c.entries = c.pending
			}
			c.pending = nil
		}
		c.listMu.Unlock()
	}

	if c.handler != nil {
		c.handler(e)
	}
}
