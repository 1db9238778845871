package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localsync/localsync-go/pkg/log"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (default ":4820").
	Address string

	// Certificate is presented to clients.
	Certificate tls.Certificate

	// PolicyFunc returns the policy for the next inbound handshake. It is
	// evaluated once per accepted socket.
	PolicyFunc func() Policy

	// HandshakeTimeout bounds each handshake (default 10s).
	HandshakeTimeout time.Duration

	// Conn tunes accepted connections.
	Conn ConnConfig

	// Handler runs the protocol on one connection. ctx is cancelled when
	// the server stops. The connection is closed when Handler returns.
	Handler func(ctx context.Context, conn *Conn)

	// OnError is called for handshake and accept failures (optional).
	OnError func(err error)

	// Logger receives operational messages (optional).
	Logger *slog.Logger
}

// Server accepts connections concurrently and runs Handler for each one.
// Every handler goroutine is tracked; Stop cancels and joins all of them.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[*Conn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates config and creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if len(config.Certificate.Certificate) == 0 {
		return nil, errors.New("server certificate is required")
	}
	if config.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if config.PolicyFunc == nil {
		return nil, errors.New("policy function is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		config: config,
		logger: logger,
		conns:  make(map[*Conn]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops accepting, cancels every handler and waits for them to return.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of connections with a running handler.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.reportError(fmt.Errorf("accept: %w", err))
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(raw)
	}
}

func (s *Server) handleConnection(raw net.Conn) {
	defer s.wg.Done()

	policy := s.config.PolicyFunc()
	hsCtx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	session, err := ServerHandshake(hsCtx, raw, s.config.Certificate, policy)
	cancel()
	if err != nil {
		s.logger.Debug("handshake rejected", "remote", raw.RemoteAddr(), "policy", policy, "error", err)
		s.reportError(err)
		return
	}

	conn := NewConn(s.ctx, session, policy, s.config.Conn)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	s.logger.Debug("connection accepted", "conn_id", conn.ID(), "remote", conn.RemoteAddr(), "state", conn.State())
	s.config.Handler(s.ctx, conn)
	conn.Close()
}

func (s *Server) track(conn *Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
	if s.config.Conn.Logger != nil {
		s.config.Conn.Logger.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerSession,
			Category:  log.CategoryError,
			LocalRole: s.config.Conn.Role,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSession,
				Message: err.Error(),
				Context: "accept",
			},
		})
	}
}
