package protocol

import (
	"io"

	"filexfer/fileserver/catalog"
)

// SessionInterface is the connection a command is served on. Reads and
// writes go straight to the client socket.
type SessionInterface interface {
	io.ReadWriter

	LogPrintf(format string, args ...interface{})
	GetClientIP() string

	// Server context
	GetCatalog() Catalog
	GetChunkSize() int
}

// Catalog resolves the files a server exposes.
type Catalog interface {
	Scan() (*catalog.Scan, error)
	Lookup(name string) (path string, size int64, err error)
}
