package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// DefaultConnectTimeout bounds dialing plus the handshake.
const DefaultConnectTimeout = 30 * time.Second

// DialConfig configures an outgoing connection.
type DialConfig struct {
	// Certificate is presented to the server.
	Certificate tls.Certificate

	// ServerName is sent as SNI. It plays no part in validation.
	ServerName string

	// Policy validates the server certificate.
	Policy Policy

	// ConnectTimeout bounds dial plus handshake when ctx has no deadline
	// (default 30s).
	ConnectTimeout time.Duration

	// Conn tunes the resulting connection.
	Conn ConnConfig
}

// Dial connects to address and performs a client-side handshake. Dial
// errors are returned as is; handshake errors wrap ErrHandshakeFailed.
//
// In TLS 1.3 the server checks the client certificate after the client has
// finished its handshake, so a server-side rejection surfaces on the first
// read rather than here.
func Dial(ctx context.Context, address string, cfg DialConfig) (*Conn, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	hsCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer
	raw, err := dialer.DialContext(hsCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	session, err := ClientHandshake(hsCtx, raw, cfg.ServerName, cfg.Certificate, cfg.Policy)
	if err != nil {
		return nil, err
	}
	return NewConn(context.WithoutCancel(ctx), session, cfg.Policy, cfg.Conn), nil
}
