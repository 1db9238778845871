package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/pairing"
	"github.com/localsync/localsync-go/pkg/transport"
)

// Server is the listening role. It serves one connection at a time and
// exposes each protocol step as a method so the caller sequences pairing,
// connection acceptance and data transfer.
type Server struct {
	*endpoint

	config ServerConfig
	window *pairing.Window

	mu           sync.Mutex
	state        ServerState
	listener     *transport.Listener
	conn         *transport.Conn
	cancelAccept context.CancelFunc

	onStateChange func(oldState, newState ServerState)
}

// NewServer creates a server. The local identity is generated on first use
// of config.Name in the trust store.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	ep, err := newEndpoint(config.TrustStore, config.Name, config.PeerName, log.RoleServer, config.Logger, config.ProtocolLogger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		endpoint: ep,
		config:   config,
		window:   pairing.NewWindow(),
		state:    ServerIdle,
	}
	if err := s.window.SetTimeout(config.PairingTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.window.OnStateChange(func(oldState, newState pairing.WindowState) {
		s.logStateChange(log.StateEntityPairingWindow, oldState, newState, "")
	})
	s.window.OnTimeout(s.handleWindowTimeout)
	return s, nil
}

// State returns the current server state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange sets a callback for state changes.
func (s *Server) OnStateChange(fn func(oldState, newState ServerState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Listen opens the listening socket.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyListening
	}
	l, err := transport.Listen(transport.ListenerConfig{
		Address:          s.config.Address,
		HandshakeTimeout: s.config.HandshakeTimeout,
		Conn:             s.connConfig(s.config.ReadTimeout, s.config.MaxPayloadSize),
		Logger:           s.logger,
	})
	if err != nil {
		return err
	}
	s.listener = l
	s.logger.Info("listening", "addr", l.Addr(), "fingerprint", s.Fingerprint())
	return nil
}

// Addr returns the listen address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// PreparePair generates a fresh pairing secret and arms the pairing policy
// for the next AcceptPairRequest. The secret must reach the client
// operator out of band.
func (s *Server) PreparePair() ([]byte, error) {
	if s.store.IsPaired() {
		return nil, fmt.Errorf("%w: %s", cert.ErrAlreadyPaired, cert.Fingerprint(s.store.Accepted()))
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	if s.busyLocked() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.mu.Unlock()

	secret, err := s.window.Open()
	if err != nil {
		return nil, err
	}
	s.transition(ServerPairingPrepared, "pairing secret generated")
	return secret, nil
}

// PairingSecret returns the current pairing secret, or nil when none is
// armed.
func (s *Server) PairingSecret() []byte {
	return s.window.Secret()
}

// AcceptPairRequest accepts one connection under the pairing policy and
// verifies its pairing request. A wrong frame or a wrong secret is answered
// with an Error frame and reported as ErrPairingFailed (wrapping
// ErrAuthenticationFailed for a secret mismatch). On success the client
// certificate is the accepted remote certificate and the server is
// Connected.
func (s *Server) AcceptPairRequest(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.state != ServerPairingPrepared || !s.window.IsOpen() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPairingFailed, pairing.ErrWindowClosed)
	}
	listener := s.listener
	ctx, cancel := context.WithCancel(ctx)
	s.cancelAccept = cancel
	oldState := s.setStateLocked(ServerAwaitingPairingConnection)
	s.mu.Unlock()
	defer s.clearAccept(cancel)

	s.notify(oldState, ServerAwaitingPairingConnection, "waiting for pairing connection")

	conn, err := listener.Accept(ctx, s.identity.TLSCertificate(), transport.PairingPolicy())
	if err != nil {
		if s.window.IsOpen() {
			s.transition(ServerPairingPrepared, "accept aborted")
		} else {
			s.transition(ServerIdle, "pairing window closed")
		}
		return fmt.Errorf("accept pairing connection: %w", err)
	}
	if !s.adopt(conn) {
		conn.Close()
		return fmt.Errorf("%w: server stopped", ErrPairingFailed)
	}

	s.transition(ServerVerifyingSecret, "pairing connection accepted")
	if err := s.acceptPairing(ctx, conn, s.window); err != nil {
		s.release(conn)
		if s.Addr() == nil {
			s.transition(ServerIdle, "stopped")
		} else {
			s.transition(ServerPairingFailed, err.Error())
		}
		return err
	}

	s.transition(ServerPaired, "peer accepted")
	s.transition(ServerConnected, "pairing complete")
	return nil
}

// AcceptConnection accepts one connection from the accepted peer. It
// requires a prior pairing or an imported remote certificate.
func (s *Server) AcceptConnection(ctx context.Context) error {
	accepted := s.store.Accepted()
	if accepted == nil {
		return ErrNotPaired
	}

	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	listener := s.listener
	ctx, cancel := context.WithCancel(ctx)
	s.cancelAccept = cancel
	oldState := s.setStateLocked(ServerAwaitingConnection)
	s.mu.Unlock()
	defer s.clearAccept(cancel)

	s.notify(oldState, ServerAwaitingConnection, "waiting for connection")

	conn, err := listener.Accept(ctx, s.identity.TLSCertificate(), transport.EstablishedPolicy(accepted))
	if err != nil {
		s.transition(ServerIdle, "accept aborted")
		return fmt.Errorf("accept connection: %w", err)
	}
	if !s.adopt(conn) {
		conn.Close()
		return ErrNotListening
	}

	s.transition(ServerConnected, "connection accepted")
	return nil
}

// SendData sends one data frame and waits for the ACK. Failures tear down
// the connection and are reported in the response.
func (s *Server) SendData(ctx context.Context, data []byte) DataResponse {
	conn, err := s.connected()
	if err != nil {
		return errorResponse(err)
	}
	if err := sendData(ctx, conn, data); err != nil {
		s.drop(conn, "send", err)
		return errorResponse(err)
	}
	return successResponse(nil)
}

// ReceiveData reads one data frame and acknowledges it. Failures tear down
// the connection and are reported in the response.
func (s *Server) ReceiveData(ctx context.Context) DataResponse {
	conn, err := s.connected()
	if err != nil {
		return errorResponse(err)
	}
	data, err := receiveData(ctx, conn)
	if err != nil {
		s.drop(conn, "receive", err)
		return errorResponse(err)
	}
	return successResponse(data)
}

// CloseConnection closes the current connection, aborting any pending read
// or write, and returns to Idle. The listener stays open.
func (s *Server) CloseConnection() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.transition(ServerIdle, "connection closed")
	return err
}

// Stop aborts any pending accept, closes the connection and the listener,
// discards an armed pairing secret and persists the trust store.
func (s *Server) Stop() error {
	s.window.Close()

	s.mu.Lock()
	cancel := s.cancelAccept
	s.cancelAccept = nil
	listener := s.listener
	s.listener = nil
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := s.store.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save trust store: %w", err))
	}

	s.transition(ServerIdle, "stopped")
	return errors.Join(errs...)
}

// busyLocked reports whether an accept or verification is in progress.
func (s *Server) busyLocked() bool {
	switch s.state {
	case ServerAwaitingPairingConnection, ServerVerifyingSecret, ServerAwaitingConnection:
		return true
	}
	return false
}

// adopt makes conn the current connection unless the server stopped
// while it was accepted.
func (s *Server) adopt(conn *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conn = conn
	return true
}

// release closes conn and forgets it if it is still current.
func (s *Server) release(conn *transport.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Server) clearAccept(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	s.cancelAccept = nil
	s.mu.Unlock()
}

func (s *Server) connected() (*transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ServerConnected || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// drop tears down conn after a failed exchange.
func (s *Server) drop(conn *transport.Conn, op string, err error) {
	s.logError(conn.ID(), op, err)
	s.release(conn)
	s.transition(ServerIdle, op+" failed")
}

// handleWindowTimeout aborts a pending pairing accept when the secret
// expires.
func (s *Server) handleWindowTimeout() {
	s.mu.Lock()
	state := s.state
	cancel := s.cancelAccept
	s.mu.Unlock()

	switch state {
	case ServerPairingPrepared:
		s.transition(ServerIdle, "pairing window expired")
	case ServerAwaitingPairingConnection:
		if cancel != nil {
			cancel()
		}
	}
}

func (s *Server) transition(newState ServerState, reason string) {
	s.mu.Lock()
	oldState := s.setStateLocked(newState)
	s.mu.Unlock()
	s.notify(oldState, newState, reason)
}

func (s *Server) setStateLocked(newState ServerState) ServerState {
	oldState := s.state
	s.state = newState
	return oldState
}

// notify reports a state change. It must be called without s.mu held.
func (s *Server) notify(oldState, newState ServerState, reason string) {
	if oldState == newState {
		return
	}
	s.mu.Lock()
	fn := s.onStateChange
	s.mu.Unlock()

	s.logStateChange(log.StateEntityServer, oldState, newState, reason)
	if fn != nil {
		fn(oldState, newState)
	}
}
