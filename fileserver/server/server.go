// Package server runs the accept loop of the file server. Every connection
// carries exactly one command and is served on its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"filexfer/fileserver/catalog"
	"filexfer/fileserver/terminal"
	"filexfer/logging"
)

// FileServer serves a catalog over TCP.
type FileServer struct {
	config  *terminal.Config
	catalog *catalog.Catalog
	log     *zap.SugaredLogger

	mutex    sync.Mutex
	listener net.Listener
	sessions map[string]*ClientSession
	running  bool
	wg       sync.WaitGroup
}

// NewFileServer creates a server for config. The configuration is expected
// to have passed terminal.ValidateConfig.
func NewFileServer(config *terminal.Config) *FileServer {
	return &FileServer{
		config:   config,
		catalog:  catalog.New(config.RootDir, catalog.WithStrict(config.StrictCatalog)),
		log:      logging.S(),
		sessions: make(map[string]*ClientSession),
	}
}

// Listen binds the listening socket.
func (server *FileServer) Listen() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", server.config.ListenPort))
	if err != nil {
		return fmt.Errorf("failed to start file server: %w", err)
	}

	server.mutex.Lock()
	server.listener = listener
	server.running = true
	server.mutex.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (server *FileServer) Addr() net.Addr {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	if server.listener == nil {
		return nil
	}
	return server.listener.Addr()
}

// Start binds the socket and serves until Stop is called or ctx is done.
func (server *FileServer) Start(ctx context.Context) error {
	if err := server.Listen(); err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve accepts connections until Stop is called or ctx is done. Accept
// errors never end the loop while the server is running.
func (server *FileServer) Serve(ctx context.Context) error {
	server.mutex.Lock()
	listener := server.listener
	server.mutex.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	stopOnCancel := make(chan struct{})
	defer close(stopOnCancel)
	go func() {
		select {
		case <-ctx.Done():
			server.Stop()
		case <-stopOnCancel:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !server.isRunning() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			server.log.Warnf("Error accepting connection: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		session := server.newSession(conn)
		server.wg.Add(1)
		go func() {
			defer server.wg.Done()
			server.handleClient(session)
		}()
	}
}

func (server *FileServer) isRunning() bool {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return server.running
}

func (server *FileServer) newSession(conn net.Conn) *ClientSession {
	connectionID := uuid.NewString()
	clientIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		clientIP = conn.RemoteAddr().String()
	}

	session := &ClientSession{
		server:       server,
		conn:         conn,
		connectionID: connectionID,
		clientIP:     clientIP,
		idleTimeout:  server.config.IdleTimeout,
		sessionStart: time.Now(),
		logger:       logging.ForConnection(conn.RemoteAddr().String(), connectionID),
	}

	server.mutex.Lock()
	server.sessions[connectionID] = session
	server.mutex.Unlock()
	return session
}

func (server *FileServer) removeSession(session *ClientSession) {
	server.mutex.Lock()
	delete(server.sessions, session.connectionID)
	server.mutex.Unlock()
}

// ActiveSessions returns the number of connections being served.
func (server *FileServer) ActiveSessions() int {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return len(server.sessions)
}

// Stop closes the listener and waits for in-flight connections, which end
// at the latest when their idle timeout expires.
func (server *FileServer) Stop() error {
	server.mutex.Lock()
	if !server.running {
		server.mutex.Unlock()
		return nil
	}
	server.running = false
	listener := server.listener
	server.mutex.Unlock()

	var result *multierror.Error
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
	}

	server.wg.Wait()
	server.log.Infof("File server stopped")
	return result.ErrorOrNil()
}
