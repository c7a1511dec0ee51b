package server

import (
	"errors"
	"io"
	"net"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"filexfer/fileserver/metrics"
	"filexfer/fileserver/protocol"
	"filexfer/wire"
)

// ClientSession is one accepted connection. Every read and write pushes the
// connection deadline out by the idle timeout, so a peer that stops talking
// is dropped.
type ClientSession struct {
	server       *FileServer
	conn         net.Conn
	connectionID string
	clientIP     string
	idleTimeout  time.Duration
	sessionStart time.Time
	logger       *zap.SugaredLogger
}

// Implement protocol.SessionInterface for ClientSession

func (session *ClientSession) Read(p []byte) (int, error) {
	if err := session.conn.SetReadDeadline(time.Now().Add(session.idleTimeout)); err != nil {
		return 0, err
	}
	return session.conn.Read(p)
}

func (session *ClientSession) Write(p []byte) (int, error) {
	if err := session.conn.SetWriteDeadline(time.Now().Add(session.idleTimeout)); err != nil {
		return 0, err
	}
	return session.conn.Write(p)
}

func (session *ClientSession) LogPrintf(format string, args ...interface{}) {
	session.logger.Infof(format, args...)
}

func (session *ClientSession) GetClientIP() string {
	return session.clientIP
}

func (session *ClientSession) GetCatalog() protocol.Catalog {
	return session.server.catalog
}

func (session *ClientSession) GetChunkSize() int {
	return session.server.config.ChunkSize
}

// handleClient reads the single command of a connection and serves it. A
// panic is contained to this connection.
func (server *FileServer) handleClient(session *ClientSession) {
	metrics.ConnectionOpened()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordConnectionError(metrics.ReasonPanic)
			session.logger.Errorf("[PANIC] %v\n%s", r, debug.Stack())
		}
		session.conn.Close()
		server.removeSession(session)
		metrics.ConnectionClosed()
		session.logger.Debugf("[INFO] Client disconnected after %v", time.Since(session.sessionStart).Round(time.Millisecond))
	}()

	session.logger.Debugf("[INFO] Client connected from IP: %s", session.clientIP)

	// The whole command arrives in one read; there is no reassembly
	buf := make([]byte, wire.MaxCommandSize)
	n, err := session.Read(buf)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			session.logger.Infof("[INFO] Idle timeout waiting for command")
		case errors.Is(err, io.EOF):
			session.logger.Debugf("[INFO] Client closed without a command")
		default:
			metrics.RecordConnectionError(metrics.ReasonIO)
			session.logger.Warnf("[ERROR] Failed to read command: %v", err)
		}
		return
	}

	if err := protocol.NewCommandHandler(session).HandleCommand(buf[:n]); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			session.logger.Infof("[INFO] Idle timeout: %v", err)
			return
		}
		session.logger.Warnf("[ERROR] %v", err)
	}
}
