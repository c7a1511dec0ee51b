package transfer

import (
	"context"
	"net"
	"sync"
)

// CancelToken is the stop switch shared by a session and whoever controls
// it. The stopped flag and the session's connection live under one mutex:
// Cancel sets the flag and closes the connection in the same critical
// section, which unblocks any read in progress. Cancellation is one-shot.
type CancelToken struct {
	mu      sync.Mutex
	stopped bool
	conn    net.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken returns a token that has not been cancelled.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel stops the session. It is safe to call any number of times from
// any goroutine.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.cancel()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Context is done once the token is cancelled. It aborts dialing.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// attach registers the session connection. It returns false, leaving conn
// untouched, when the token was cancelled first.
func (t *CancelToken) attach(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.conn = conn
	return true
}

// closeConn closes the attached connection, if any.
func (t *CancelToken) closeConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
