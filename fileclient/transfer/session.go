// Package transfer drives client sessions: one TCP connection, one command,
// and a stream of events ending in exactly one Completed event.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"filexfer/filelock"
	"filexfer/logging"
	"filexfer/wire"
)

// partSuffix marks a download that has not been committed yet.
const partSuffix = ".part"

// State is the lifecycle position of a session.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateFinished
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds what a session needs to reach the server and store files.
type Config struct {
	Address     string
	DownloadDir string
	ReadChunk   int
	DialTimeout time.Duration
	// IOTimeout bounds every read and write. Zero disables it.
	IOTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadChunk <= 0 {
		c.ReadChunk = wire.DefaultReadChunk
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	return c
}

// Session runs one command against the server. Create it with
// NewListingSession or NewDownloadSession, then Start or Run it once.
type Session struct {
	id      string
	command wire.Command
	size    uint64
	cfg     Config
	token   *CancelToken
	handler EventHandler
	log     *zap.SugaredLogger

	mu    sync.Mutex
	state State
	final Event
	done  chan struct{}
}

// NewListingSession creates a session that lists the server's files.
func NewListingSession(cfg Config, token *CancelToken, handler EventHandler) *Session {
	return newSession(cfg, wire.ListFiles(), 0, token, handler)
}

// NewDownloadSession creates a session that downloads entry into
// cfg.DownloadDir. entry.Size must come from a listing; it is the exact
// number of bytes read from the server.
func NewDownloadSession(cfg Config, entry wire.FileEntry, token *CancelToken, handler EventHandler) *Session {
	return newSession(cfg, wire.Download(entry.Name), entry.Size, token, handler)
}

func newSession(cfg Config, command wire.Command, size uint64, token *CancelToken, handler EventHandler) *Session {
	if token == nil {
		token = NewCancelToken()
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		command: command,
		size:    size,
		cfg:     cfg.withDefaults(),
		token:   token,
		handler: handler,
		log:     logging.ForSession(id, command.Kind.String()),
		done:    make(chan struct{}),
	}
}

// ID returns the session id carried by every event.
func (s *Session) ID() string { return s.id }

// Command returns the command the session sends.
func (s *Session) Command() wire.Command { return s.command }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs the session on its own goroutine.
func (s *Session) Start() {
	go s.Run()
}

// Stop cancels the session. The session reports Cancelled at its next I/O
// boundary.
func (s *Session) Stop() {
	s.token.Cancel()
}

// Done is closed after the Completed event has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is complete and returns its Completed event.
func (s *Session) Wait() Event {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Run executes the session on the calling goroutine and returns the
// Completed event. Calling Run on a session that already started returns
// once that run is complete.
func (s *Session) Run() Event {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return s.Wait()
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.log.Debugf("Session started: %s", s.command)

	var (
		err    error
		timing *TimingReport
	)
	switch s.command.Kind {
	case wire.KindListFiles:
		err = s.runListing()
	case wire.KindDownload:
		timing, err = s.runDownload()
	default:
		err = protocolError("start", fmt.Errorf("%w: %s", wire.ErrUnknownCommand, s.command.Kind))
	}

	final := s.complete(err, timing)
	s.emit(final)
	close(s.done)
	return final
}

func (s *Session) complete(err error, timing *TimingReport) Event {
	final := Event{Type: EventCompleted, Outcome: OutcomeFinished, Timing: timing}
	state := StateFinished

	switch {
	case err == nil:
	case s.token.Cancelled() || KindOf(err) == KindCancelled:
		// Whatever broke after Stop was caused by it
		final.Outcome, final.Err, final.Timing = OutcomeCancelled, cancelledError(s.command.Kind.String()), nil
		state = StateCancelled
	default:
		if KindOf(err) == 0 {
			err = connectionError(s.command.Kind.String(), err)
		}
		final.Outcome, final.Err, final.Timing = OutcomeFailed, err, nil
		state = StateFailed
	}

	final.SessionID, final.Command = s.id, s.command
	s.mu.Lock()
	s.state = state
	s.final = final
	s.mu.Unlock()

	if final.Err != nil {
		s.log.Debugf("Session %s: %v", final.Outcome, final.Err)
	} else {
		s.log.Debugf("Session %s", final.Outcome)
	}
	return final
}

func (s *Session) emit(e Event) {
	if s.handler == nil {
		return
	}
	e.SessionID = s.id
	e.Command = s.command
	s.handler(e)
}

func (s *Session) dial() (net.Conn, error) {
	if s.token.Cancelled() {
		return nil, cancelledError("dial")
	}

	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(s.token.Context(), "tcp", s.cfg.Address)
	if err != nil {
		if s.token.Cancelled() {
			return nil, cancelledError("dial")
		}
		return nil, connectionError("dial", fmt.Errorf("%w: %s: %v", ErrConnectFailed, s.cfg.Address, err))
	}
	if !s.token.attach(conn) {
		conn.Close()
		return nil, cancelledError("dial")
	}
	return conn, nil
}

func (s *Session) send(conn net.Conn, op string, msg []byte) error {
	if s.token.Cancelled() {
		return cancelledError(op)
	}
	if s.cfg.IOTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return s.ioError(op, err)
		}
	}
	if _, err := conn.Write(msg); err != nil {
		return s.ioError(op, err)
	}
	return nil
}

// read performs a single read. The stopped flag is checked first; the read
// itself runs outside the token lock so Cancel can close the socket under it.
func (s *Session) read(conn net.Conn, op string, buf []byte, full bool) (int, error) {
	if s.token.Cancelled() {
		return 0, cancelledError(op)
	}
	if s.cfg.IOTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return 0, s.ioError(op, err)
		}
	}

	var (
		n   int
		err error
	)
	if full {
		n, err = io.ReadFull(conn, buf)
	} else {
		n, err = conn.Read(buf)
		if n == 0 && err == nil {
			err = io.ErrNoProgress
		}
	}
	if err != nil {
		return n, s.ioError(op, err)
	}
	return n, nil
}

func (s *Session) ioError(op string, err error) error {
	var netErr net.Error
	switch {
	case s.token.Cancelled():
		return cancelledError(op)
	case errors.As(err, &netErr) && netErr.Timeout():
		return connectionError(op, fmt.Errorf("%w after %v", ErrTimeout, s.cfg.IOTimeout))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrNoProgress):
		return connectionError(op, ErrBrokenConnection)
	default:
		return connectionError(op, fmt.Errorf("%w: %v", ErrBrokenConnection, err))
	}
}

func (s *Session) sendCommand(conn net.Conn) error {
	msg, err := s.command.Encode()
	if err != nil {
		return protocolError("encode", err)
	}
	return s.send(conn, "send command", msg)
}

// runListing reads records until END, acknowledging each one.
func (s *Session) runListing() error {
	conn, err := s.dial()
	if err != nil {
		return err
	}
	defer s.token.closeConn()

	if err := s.sendCommand(conn); err != nil {
		return err
	}

	// One read is one record: the server does not send the next record
	// before it has our ack
	buf := make([]byte, wire.MaxRecordSize)
	seen := make(map[string]bool)
	for {
		n, err := s.read(conn, "read record", buf, false)
		if err != nil {
			return err
		}
		msg := buf[:n]
		if wire.IsEnd(msg) {
			return nil
		}

		entry, err := wire.ParseRecord(msg)
		if err != nil {
			return protocolError("parse record", err)
		}
		if seen[entry.Name] {
			return protocolError("parse record", fmt.Errorf("%w: duplicate entry %q", wire.ErrMalformedRecord, entry.Name))
		}
		seen[entry.Name] = true

		s.emit(Event{Type: EventEntryReceived, Entry: entry})

		if err := s.send(conn, "ack record", []byte(wire.Ack)); err != nil {
			return err
		}
	}
}

// runDownload streams exactly s.size bytes into a locked .part file and
// renames it over the destination once the final ack is sent. On any other
// path the .part file is removed.
func (s *Session) runDownload() (*TimingReport, error) {
	timer := NewTransferTimer()
	dest := filepath.Join(s.cfg.DownloadDir, s.command.Name)
	part := dest + partSuffix

	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		return nil, localIOError("create download directory", err)
	}
	file, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, localIOError("open destination", err)
	}
	if err := filelock.Exclusive(file); err != nil {
		file.Close()
		return nil, localIOError("lock destination", fmt.Errorf("%s: %w", part, err))
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		filelock.Unlock(file)
		file.Close()
		if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove %s: %v", part, err)
		}
	}()

	// Truncate only once we own the lock
	if err := file.Truncate(0); err != nil {
		return nil, localIOError("truncate destination", err)
	}

	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer s.token.closeConn()

	if err := s.sendCommand(conn); err != nil {
		return nil, err
	}
	timer.StartTransfer()

	buf := make([]byte, s.cfg.ReadChunk)
	var progress Progress
	for progress.BytesReceived < s.size {
		want := uint64(len(buf))
		if remaining := s.size - progress.BytesReceived; remaining < want {
			want = remaining
		}

		n, err := s.read(conn, "read chunk", buf[:want], true)
		if err != nil {
			return nil, err
		}
		if _, err := file.Write(buf[:n]); err != nil {
			return nil, localIOError("write chunk", err)
		}

		progress.ChunksReceived++
		progress.BytesReceived += uint64(n)
		s.emit(Event{Type: EventProgress, Progress: progress})
	}

	if err := s.send(conn, "final ack", []byte(wire.Ack)); err != nil {
		return nil, err
	}

	if err := file.Sync(); err != nil {
		return nil, localIOError("sync destination", err)
	}
	filelock.Unlock(file)
	if err := file.Close(); err != nil {
		return nil, localIOError("close destination", err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		committed = true
		return nil, localIOError("commit destination", err)
	}
	committed = true

	report := timer.GetTimingReport(int64(progress.BytesReceived))
	return &report, nil
}
