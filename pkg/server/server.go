// Package server implements the edge-device coordination server: the TCP
// listener, the per-connection session handler with its authentication state
// machine, and the post-authentication command dispatch loop.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/auditlog"
	"github.com/edgenet/edgenet/pkg/credentials"
	"github.com/edgenet/edgenet/pkg/datastore"
	"github.com/edgenet/edgenet/pkg/lockout"
	"github.com/edgenet/edgenet/pkg/metrics"
	"github.com/edgenet/edgenet/pkg/registry"
)

// Config holds the listener and policy configuration for a Server.
type Config struct {
	// Host is the bind address.
	Host string

	// Port is the TCP listen port. Port 0 binds an ephemeral port.
	Port int

	// MaxFailAttempts is the number of consecutive authentication failures
	// one session tolerates before the claimed account is blocked.
	MaxFailAttempts int

	// MaxConnections caps concurrent sessions. Connections beyond the cap
	// are rejected at accept time.
	MaxConnections int
}

// Deps are the collaborators every session dispatches into. All of them are
// shared across sessions and internally synchronized.
type Deps struct {
	Credentials *credentials.Store
	Lockouts    *lockout.Registry
	Devices     *registry.Registry
	Payloads    datastore.Store
	DeletionLog *auditlog.AppendLog
	UploadLog   *auditlog.AppendLog

	// Metrics may be nil when metrics are disabled.
	Metrics *metrics.Metrics
}

// Server accepts client connections and runs one session goroutine per
// connection.
type Server struct {
	config Config
	deps   Deps

	listener      net.Listener
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	connSemaphore chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates a Server with the given configuration and collaborators.
func New(cfg Config, deps Deps) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 256
	}
	return &Server{
		config:        cfg,
		deps:          deps,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
		connSemaphore: make(chan struct{}, maxConns),
		conns:         make(map[net.Conn]struct{}),
	}
}

// Serve binds the listener and accepts connections until the context is
// cancelled or Stop is called. After the listener is bound, WaitReady()
// unblocks.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen TCP %s: %w", addr, err)
	}
	s.listener = listener
	close(s.listenerReady)

	logger.Info("Server started",
		"address", listener.Addr().String(),
		"max_fail_attempts", s.config.MaxFailAttempts)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.acceptLoop(ctx)
	s.wg.Wait()
	return nil
}

// WaitReady returns a channel that is closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the bound listener address. Valid after WaitReady.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and every active connection, then waits for all
// session goroutines to finish.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("Accept error", "error", err)
				return
			}
		}

		select {
		case s.connSemaphore <- struct{}{}:
			// Acquired slot
		default:
			logger.Warn("Connection limit reached, rejecting", "client", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSemaphore }()
			defer s.trackConn(c, false)
			newSession(s, c).run(ctx)
		}(conn)
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}
