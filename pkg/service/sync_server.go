package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/pairing"
	"github.com/localsync/localsync-go/pkg/transport"
)

// DataHandler receives the payloads of a SyncServer.
type DataHandler interface {
	// HandleData is called once per data frame, after it has been
	// acknowledged. Calls for one session are sequential.
	HandleData(ctx context.Context, session transport.Session, data []byte)
}

// DataHandlerFunc adapts a function to DataHandler.
type DataHandlerFunc func(ctx context.Context, session transport.Session, data []byte)

// HandleData calls f.
func (f DataHandlerFunc) HandleData(ctx context.Context, session transport.Session, data []byte) {
	f(ctx, session, data)
}

// SyncServer is an always-listening server. Each connection runs its own
// stop-and-wait receive loop.
type SyncServer struct {
	*endpoint

	config SyncServerConfig
	window *pairing.Window

	mu     sync.Mutex
	server *transport.Server
}

// NewSyncServer creates a sync server.
func NewSyncServer(config SyncServerConfig) (*SyncServer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	ep, err := newEndpoint(config.TrustStore, config.Name, config.PeerName, log.RoleServer, config.Logger, config.ProtocolLogger)
	if err != nil {
		return nil, err
	}

	if config.InstanceName == "" {
		config.InstanceName = discovery.DefaultInstanceName(ep.Fingerprint())
	}

	s := &SyncServer{
		endpoint: ep,
		config:   config,
		window:   pairing.NewWindow(),
	}
	if err := s.window.SetTimeout(config.PairingTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.window.OnStateChange(s.handleWindowChange)
	return s, nil
}

// Start listens and begins serving connections. The server is advertised
// when an Advertiser is configured.
func (s *SyncServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyListening
	}

	ts, err := transport.NewServer(transport.ServerConfig{
		Address:          s.config.Address,
		Certificate:      s.identity.TLSCertificate(),
		PolicyFunc:       s.policy,
		HandshakeTimeout: s.config.HandshakeTimeout,
		Conn:             s.connConfig(s.config.ReadTimeout, s.config.MaxPayloadSize),
		Handler:          s.handleConnection,
		OnError: func(err error) {
			s.logger.Debug("connection attempt failed", "error", err)
		},
		Logger: s.logger,
	})
	if err != nil {
		return err
	}
	if err := ts.Start(ctx); err != nil {
		return err
	}
	s.server = ts
	s.logger.Info("sync server started", "addr", ts.Addr(), "fingerprint", s.Fingerprint())

	if s.config.Advertiser != nil {
		if err := s.config.Advertiser.Advertise(ctx, s.serverInfo(ts.Addr())); err != nil {
			s.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}
	return nil
}

// Stop stops advertising, closes the pairing window, closes every
// connection, waits for their handlers and persists the trust store.
func (s *SyncServer) Stop() error {
	s.window.Close()

	s.mu.Lock()
	ts := s.server
	s.server = nil
	s.mu.Unlock()

	var errs []error
	if ts != nil {
		if s.config.Advertiser != nil {
			if err := s.config.Advertiser.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop advertising: %w", err))
			}
		}
		if err := ts.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save trust store: %w", err))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address, or nil when not started.
func (s *SyncServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// ConnectionCount returns the number of connections being served.
func (s *SyncServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return 0
	}
	return s.server.ConnectionCount()
}

// OpenPairingWindow generates a pairing secret. Until it is used or
// expires, new connections are handled under the pairing policy.
func (s *SyncServer) OpenPairingWindow() ([]byte, error) {
	if s.store.IsPaired() {
		return nil, fmt.Errorf("%w: %s", cert.ErrAlreadyPaired, cert.Fingerprint(s.store.Accepted()))
	}
	return s.window.Open()
}

// ClosePairingWindow discards the pairing secret.
func (s *SyncServer) ClosePairingWindow() {
	s.window.Close()
}

// PairingSecret returns the armed secret, or nil.
func (s *SyncServer) PairingSecret() []byte {
	return s.window.Secret()
}

// PairingWindow exposes the pairing window state.
func (s *SyncServer) PairingWindow() pairing.WindowState {
	return s.window.State()
}

// policy is evaluated once per inbound handshake.
func (s *SyncServer) policy() transport.Policy {
	if s.window.State() != pairing.WindowClosed {
		return transport.PairingPolicy()
	}
	// A nil accepted certificate rejects every peer.
	return transport.EstablishedPolicy(s.store.Accepted())
}

func (s *SyncServer) handleConnection(ctx context.Context, conn *transport.Conn) {
	logger := s.logger.With("conn_id", conn.ID(), "remote", conn.RemoteAddr())

	if conn.State() == transport.StatePairing {
		if err := s.acceptPairing(ctx, conn, s.window); err != nil {
			logger.Debug("pairing connection rejected", "error", err)
			return
		}
	}

	logger.Debug("serving connection")
	for {
		data, err := receiveData(ctx, conn)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logger.Debug("server stopping")
			case errors.Is(err, transport.ErrConnectionClosed):
				logger.Debug("peer closed connection")
			default:
				s.logError(conn.ID(), "receive", err)
				logger.Warn("connection failed", "error", err)
			}
			return
		}
		s.config.Handler.HandleData(ctx, conn, data)
	}
}

func (s *SyncServer) handleWindowChange(oldState, newState pairing.WindowState) {
	s.logStateChange(log.StateEntityPairingWindow, oldState, newState, "")

	addr := s.Addr()
	if s.config.Advertiser == nil || addr == nil {
		return
	}
	if err := s.config.Advertiser.Update(s.serverInfo(addr)); err != nil {
		s.logger.Debug("mDNS update failed", "error", err)
	}
}

func (s *SyncServer) serverInfo(addr net.Addr) *discovery.ServerInfo {
	info := &discovery.ServerInfo{
		InstanceName: s.config.InstanceName,
		Fingerprint:  s.Fingerprint(),
		Pairing:      s.window.IsOpen(),
		Name:         s.config.Name,
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		info.Port = uint16(tcp.Port)
	}
	return info
}
