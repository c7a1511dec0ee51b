package transfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filexfer/filelock"
	"filexfer/fileserver/server"
	"filexfer/fileserver/terminal"
	"filexfer/wire"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) progress() []Progress {
	var out []Progress
	for _, e := range r.all() {
		if e.Type == EventProgress {
			out = append(out, e.Progress)
		}
	}
	return out
}

func (r *recorder) entries() []wire.FileEntry {
	var out []wire.FileEntry
	for _, e := range r.all() {
		if e.Type == EventEntryReceived {
			out = append(out, e.Entry)
		}
	}
	return out
}

func pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

// startFileServer runs the real server over a temporary root.
func startFileServer(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))
	}

	cfg := terminal.DefaultConfig()
	cfg.ListenPort = 0
	cfg.RootDir = root
	srv := server.NewFileServer(cfg)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Addr().(*net.TCPAddr).Port))
}

// fakeServer runs script on every accepted connection.
func fakeServer(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				script(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func readCommand(conn net.Conn) string {
	buf := make([]byte, wire.MaxCommandSize)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

func testConfig(t *testing.T, addr string) Config {
	return Config{
		Address:     addr,
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
		ReadChunk:   1024,
		DialTimeout: 2 * time.Second,
		IOTimeout:   5 * time.Second,
	}
}

func assertLastIsCompleted(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)
	for _, e := range events[:len(events)-1] {
		assert.NotEqual(t, EventCompleted, e.Type)
	}
	assert.Equal(t, EventCompleted, events[len(events)-1].Type)
}

func TestListingRoundTrip(t *testing.T) {
	addr := startFileServer(t, map[string][]byte{"a.txt": []byte("hello world"), "b.bin": pattern(2050)})

	rec := &recorder{}
	s := NewListingSession(testConfig(t, addr), nil, rec.handle)
	final := s.Run()

	assert.Equal(t, OutcomeFinished, final.Outcome)
	assert.NoError(t, final.Err)
	assert.Equal(t, StateFinished, s.State())
	assert.Equal(t, []wire.FileEntry{{Name: "a.txt", Size: 11}, {Name: "b.bin", Size: 2050}}, rec.entries())
	assertLastIsCompleted(t, rec.all())
	for _, e := range rec.all() {
		assert.Equal(t, s.ID(), e.SessionID)
	}
}

func TestEmptyListing(t *testing.T) {
	addr := startFileServer(t, nil)

	rec := &recorder{}
	final := NewListingSession(testConfig(t, addr), nil, rec.handle).Run()
	assert.Equal(t, OutcomeFinished, final.Outcome)
	assert.Empty(t, rec.entries())
	assert.Len(t, rec.all(), 1)
}

func TestDownloadProgressScenario(t *testing.T) {
	data := pattern(2050)
	addr := startFileServer(t, map[string][]byte{"b.bin": data})
	cfg := testConfig(t, addr)

	rec := &recorder{}
	final := NewDownloadSession(cfg, wire.FileEntry{Name: "b.bin", Size: 2050}, nil, rec.handle).Run()

	require.Equal(t, OutcomeFinished, final.Outcome, "%v", final.Err)
	assert.Equal(t, []Progress{{1, 1024}, {2, 2048}, {3, 2050}}, rec.progress())
	require.NotNil(t, final.Timing)
	assert.EqualValues(t, 2050, final.Timing.BytesTransferred)

	got, err := os.ReadFile(filepath.Join(cfg.DownloadDir, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "b.bin.part"))
}

func TestDownloadChunkCount(t *testing.T) {
	sizes := []int{0, 1, 1023, 1024, 1025, 5000}
	files := map[string][]byte{}
	for _, size := range sizes {
		files["f"+strconv.Itoa(size)] = pattern(size)
	}
	addr := startFileServer(t, files)

	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			cfg := testConfig(t, addr)
			rec := &recorder{}
			name := "f" + strconv.Itoa(size)
			final := NewDownloadSession(cfg, wire.FileEntry{Name: name, Size: uint64(size)}, nil, rec.handle).Run()
			require.Equal(t, OutcomeFinished, final.Outcome, "%v", final.Err)

			progress := rec.progress()
			assert.Len(t, progress, (size+1023)/1024)
			var last uint64
			for i, p := range progress {
				assert.EqualValues(t, i+1, p.ChunksReceived)
				assert.Greater(t, p.BytesReceived, last)
				last = p.BytesReceived
			}
			assert.EqualValues(t, size, last)

			got, err := os.ReadFile(filepath.Join(cfg.DownloadDir, name))
			require.NoError(t, err)
			assert.Equal(t, files[name], got)
		})
	}
}

func TestRedownloadOverwrites(t *testing.T) {
	data := []byte("hello world")
	addr := startFileServer(t, map[string][]byte{"a.txt": data})
	cfg := testConfig(t, addr)
	require.NoError(t, os.MkdirAll(cfg.DownloadDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "a.txt"), []byte("stale content that is longer"), 0o644))

	for i := 0; i < 2; i++ {
		final := NewDownloadSession(cfg, wire.FileEntry{Name: "a.txt", Size: 11}, nil, nil).Run()
		require.Equal(t, OutcomeFinished, final.Outcome, "%v", final.Err)

		got, err := os.ReadFile(filepath.Join(cfg.DownloadDir, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	final := NewListingSession(testConfig(t, addr), nil, nil).Run()
	assert.Equal(t, OutcomeFailed, final.Outcome)
	assert.Equal(t, KindConnection, KindOf(final.Err))
	assert.ErrorIs(t, final.Err, ErrConnectFailed)
}

func TestLocalIOFailsBeforeDial(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	addr := fakeServer(t, func(net.Conn) {
		mu.Lock()
		accepted++
		mu.Unlock()
	})

	cfg := testConfig(t, addr)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.DownloadDir = blocker

	final := NewDownloadSession(cfg, wire.FileEntry{Name: "a.txt", Size: 11}, nil, nil).Run()
	assert.Equal(t, OutcomeFailed, final.Outcome)
	assert.Equal(t, KindLocalIO, KindOf(final.Err))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, accepted)
}

func TestMalformedRecord(t *testing.T) {
	for _, record := range []string{"a.txt", "a,b,3", "a.txt,-1", "a.txt,ten"} {
		addr := fakeServer(t, func(conn net.Conn) {
			readCommand(conn)
			conn.Write([]byte(record))
			io.Copy(io.Discard, conn)
		})

		final := NewListingSession(testConfig(t, addr), nil, nil).Run()
		assert.Equal(t, OutcomeFailed, final.Outcome, record)
		assert.Equal(t, KindProtocol, KindOf(final.Err), record)
		assert.ErrorIs(t, final.Err, wire.ErrMalformedRecord, record)
	}
}

func TestDuplicateListingEntry(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readCommand(conn)
		for i := 0; i < 2; i++ {
			conn.Write([]byte("a.txt,11"))
			if wire.ReadAck(conn) != nil {
				return
			}
		}
		conn.Write([]byte(wire.EndMarker))
	})

	final := NewListingSession(testConfig(t, addr), nil, nil).Run()
	assert.Equal(t, KindProtocol, KindOf(final.Err))
}

func TestListingEndsWithoutEndMarker(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readCommand(conn)
		conn.Write([]byte("a.txt,11"))
		wire.ReadAck(conn)
	})

	rec := &recorder{}
	final := NewListingSession(testConfig(t, addr), nil, rec.handle).Run()
	assert.Equal(t, OutcomeFailed, final.Outcome)
	assert.ErrorIs(t, final.Err, ErrBrokenConnection)
	assert.Len(t, rec.entries(), 1)
}

func TestBrokenConnectionDuringDownload(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readCommand(conn)
		conn.Write(pattern(100))
	})
	cfg := testConfig(t, addr)

	final := NewDownloadSession(cfg, wire.FileEntry{Name: "b.bin", Size: 2050}, nil, nil).Run()
	assert.Equal(t, OutcomeFailed, final.Outcome)
	assert.Equal(t, KindConnection, KindOf(final.Err))
	assert.ErrorIs(t, final.Err, ErrBrokenConnection)
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "b.bin"))
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "b.bin.part"))
}

func TestIOTimeout(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readCommand(conn)
		io.Copy(io.Discard, conn)
	})
	cfg := testConfig(t, addr)
	cfg.IOTimeout = 100 * time.Millisecond

	final := NewListingSession(cfg, nil, nil).Run()
	assert.Equal(t, OutcomeFailed, final.Outcome)
	assert.ErrorIs(t, final.Err, ErrTimeout)
}

// slowDownload sends one chunk and reports what the client sent afterwards.
func slowDownload(t *testing.T) (string, <-chan []byte) {
	after := make(chan []byte, 1)
	addr := fakeServer(t, func(conn net.Conn) {
		readCommand(conn)
		conn.Write(pattern(1024))
		rest, _ := io.ReadAll(conn)
		after <- rest
	})
	return addr, after
}

func TestCancelAfterFirstChunk(t *testing.T) {
	addr, after := slowDownload(t)
	cfg := testConfig(t, addr)

	token := NewCancelToken()
	rec := &recorder{hook: func(e Event) {
		if e.Type == EventProgress {
			token.Cancel()
		}
	}}
	s := NewDownloadSession(cfg, wire.FileEntry{Name: "b.bin", Size: 2050}, token, rec.handle)
	final := s.Run()

	assert.Equal(t, OutcomeCancelled, final.Outcome)
	assert.ErrorIs(t, final.Err, ErrCancelled)
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, []Progress{{1, 1024}}, rec.progress())
	assertLastIsCompleted(t, rec.all())

	select {
	case rest := <-after:
		assert.Empty(t, rest, "no ack after cancel")
	case <-time.After(3 * time.Second):
		t.Fatal("connection was not closed")
	}
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "b.bin.part"))
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "b.bin"))
}

func TestStopUnblocksRead(t *testing.T) {
	addr, _ := slowDownload(t)
	cfg := testConfig(t, addr)

	firstChunk := make(chan struct{})
	var once sync.Once
	rec := &recorder{hook: func(e Event) {
		if e.Type == EventProgress {
			once.Do(func() { close(firstChunk) })
		}
	}}
	s := NewDownloadSession(cfg, wire.FileEntry{Name: "b.bin", Size: 4096}, nil, rec.handle)
	s.Start()

	<-firstChunk
	start := time.Now()
	s.Stop()
	final := s.Wait()

	assert.Equal(t, OutcomeCancelled, final.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCancelledBeforeRun(t *testing.T) {
	token := NewCancelToken()
	token.Cancel()
	token.Cancel()

	final := NewListingSession(testConfig(t, "127.0.0.1:1"), token, nil).Run()
	assert.Equal(t, OutcomeCancelled, final.Outcome)
	assert.Equal(t, KindCancelled, KindOf(final.Err))
}

func TestRunTwiceReturnsSameResult(t *testing.T) {
	addr := startFileServer(t, nil)
	rec := &recorder{}
	s := NewListingSession(testConfig(t, addr), nil, rec.handle)

	first := s.Run()
	second := s.Run()
	assert.Equal(t, first, second)
	assert.Len(t, rec.all(), 1)
}

func TestDestinationLockedByAnotherSession(t *testing.T) {
	addr := startFileServer(t, map[string][]byte{"a.txt": []byte("hello world")})
	cfg := testConfig(t, addr)
	require.NoError(t, os.MkdirAll(cfg.DownloadDir, 0o755))

	part, err := os.OpenFile(filepath.Join(cfg.DownloadDir, "a.txt.part"), os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer part.Close()
	_, err = part.Write([]byte("busy"))
	require.NoError(t, err)
	require.NoError(t, filelock.Exclusive(part))

	final := NewDownloadSession(cfg, wire.FileEntry{Name: "a.txt", Size: 11}, nil, nil).Run()
	assert.Equal(t, KindLocalIO, KindOf(final.Err))

	content, err := os.ReadFile(part.Name())
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("busy"), content), "the other session's file is untouched")
}
