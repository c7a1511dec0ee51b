package protocol

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filexfer/fileserver/catalog"
	"filexfer/wire"
)

type pipeSession struct {
	net.Conn
	catalog Catalog
	chunk   int

	mu   sync.Mutex
	logs []string
}

func (s *pipeSession) LogPrintf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
}

func (s *pipeSession) GetClientIP() string { return "pipe" }
func (s *pipeSession) GetCatalog() Catalog { return s.catalog }
func (s *pipeSession) GetChunkSize() int { return s.chunk }

// serve runs one command on the server end of a pipe and returns the client
// end plus a channel with the handler result.
func serve(t *testing.T, root, command string) (net.Conn, <-chan error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	session := &pipeSession{Conn: server, catalog: catalog.New(root), chunk: 1024}
	done := make(chan error, 1)
	go func() {
		defer server.Close()
		done <- NewCommandHandler(session).HandleCommand([]byte(command))
	}()
	return client, done
}

func readListing(t *testing.T, conn net.Conn) []wire.FileEntry {
	t.Helper()
	var entries []wire.FileEntry
	buf := make([]byte, wire.MaxRecordSize)
	for {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		if wire.IsEnd(buf[:n]) {
			return entries
		}
		entry, err := wire.ParseRecord(buf[:n])
		require.NoError(t, err)
		entries = append(entries, entry)
		require.NoError(t, wire.WriteAck(conn))
	}
}

func populate(t *testing.T, files map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for name, size := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return root
}

func TestFileListRoundTrip(t *testing.T) {
	root := populate(t, map[string]int{"a.txt": 11, "b.bin": 2050, "nested/c.log": 7})
	client, done := serve(t, root, wire.CmdFileList)

	entries := readListing(t, client)
	require.NoError(t, <-done)

	want, err := catalog.New(root).Entries()
	require.NoError(t, err)
	assert.Equal(t, want, entries)
	assert.Len(t, entries, 3)
}

func TestFileListEmpty(t *testing.T) {
	client, done := serve(t, t.TempDir(), wire.CmdFileList)
	assert.Empty(t, readListing(t, client))
	require.NoError(t, <-done)
}

func TestFileListWithoutAck(t *testing.T) {
	root := populate(t, map[string]int{"a.txt": 11})
	client, done := serve(t, root, wire.CmdFileList)

	buf := make([]byte, wire.MaxRecordSize)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "a.txt,11", string(buf[:n]))
	_, err = client.Write([]byte("NO"))
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, wire.ErrBadAck)
}

func TestDownload(t *testing.T) {
	root := populate(t, map[string]int{"b.bin": 2050})
	client, done := serve(t, root, "DOWNLOAD b.bin")

	got := make([]byte, 2050)
	_, err := io.ReadFull(client, got)
	require.NoError(t, err)
	for i := range got {
		require.Equal(t, byte(i), got[i])
	}
	require.NoError(t, wire.WriteAck(client))
	require.NoError(t, <-done)

	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestDownloadMissingFile(t *testing.T) {
	client, done := serve(t, t.TempDir(), "DOWNLOAD nope.txt")

	_, err := client.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF, "no error frame is sent")
	assert.ErrorIs(t, <-done, catalog.ErrNotFound)
}

func TestDownloadClientGoesAway(t *testing.T) {
	root := populate(t, map[string]int{"b.bin": 2050})
	client, done := serve(t, root, "DOWNLOAD b.bin")

	_, err := io.ReadFull(client, make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.Error(t, <-done)
}

func TestUnknownCommand(t *testing.T) {
	for _, raw := range []string{"LIST", "file_list", "DOWNLOAD ../etc/passwd", ""} {
		client, done := serve(t, t.TempDir(), raw)
		err := <-done
		assert.True(t, wire.IsProtocolError(err), "%q: %v", raw, err)

		_, err = client.Read(make([]byte, 16))
		assert.ErrorIs(t, err, io.EOF, "%q gets no response", raw)
	}
}
