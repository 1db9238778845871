package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// TLS constants for LocalSync.
const (
	// ALPNProtocol is the application protocol negotiated on every session.
	ALPNProtocol = "localsync/1"

	// DefaultPort is the default LocalSync port.
	DefaultPort = 4820
)

// ErrHandshakeFailed indicates the TLS handshake failed, either because the
// peer certificate was rejected by the policy or because of a transport error.
var ErrHandshakeFailed = errors.New("handshake failed")

func baseTLSConfig(local tls.Certificate, p Policy) (*tls.Config, error) {
	if len(local.Certificate) == 0 {
		return nil, fmt.Errorf("local certificate is required")
	}
	return &tls.Config{
		// TLS 1.3 only
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{local},
		NextProtos:   []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,

		// There is no CA; the policy is the only trust decision.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: p.verifyPeerCertificate,
	}, nil
}

// NewServerTLSConfig creates the server side configuration. A client
// certificate is always required and judged by p.
func NewServerTLSConfig(local tls.Certificate, p Policy) (*tls.Config, error) {
	cfg, err := baseTLSConfig(local, p)
	if err != nil {
		return nil, err
	}
	cfg.ClientAuth = tls.RequireAnyClientCert
	return cfg, nil
}

// NewClientTLSConfig creates the client side configuration. serverName is
// only sent as SNI.
func NewClientTLSConfig(local tls.Certificate, serverName string, p Policy) (*tls.Config, error) {
	cfg, err := baseTLSConfig(local, p)
	if err != nil {
		return nil, err
	}
	cfg.ServerName = serverName
	return cfg, nil
}

// VerifyTLS13 checks that a session negotiated TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyALPN checks the negotiated application protocol.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection performs the post-handshake session checks.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	if err := VerifyALPN(state); err != nil {
		return err
	}
	if len(state.PeerCertificates) == 0 {
		return errors.New("peer presented no certificate")
	}
	return nil
}

// ServerHandshake runs a server-side handshake on an accepted socket. On
// failure raw is closed and the error wraps ErrHandshakeFailed.
func ServerHandshake(ctx context.Context, raw net.Conn, local tls.Certificate, p Policy) (*tls.Conn, error) {
	cfg, err := NewServerTLSConfig(local, p)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return handshake(ctx, tls.Server(raw, cfg))
}

// ClientHandshake runs a client-side handshake on a connected socket. On
// failure raw is closed and the error wraps ErrHandshakeFailed.
func ClientHandshake(ctx context.Context, raw net.Conn, serverName string, local tls.Certificate, p Policy) (*tls.Conn, error) {
	cfg, err := NewClientTLSConfig(local, serverName, p)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return handshake(ctx, tls.Client(raw, cfg))
}

func handshake(ctx context.Context, conn *tls.Conn) (*tls.Conn, error) {
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := VerifyConnection(conn.ConnectionState()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return conn, nil
}
