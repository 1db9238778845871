package transport

import (
	"context"
	"crypto/x509"
	"net"

	"github.com/localsync/localsync-go/pkg/wire"
)

// MessageReadWriter reads and writes framed messages.
// Implemented by Framer and Conn.
type MessageReadWriter interface {
	ReadMessage(ctx context.Context) (wire.Message, error)
	WriteMessage(ctx context.Context, m wire.Message) error
}

// Session is an authenticated connection carrying framed messages.
// Implemented by Conn.
type Session interface {
	MessageReadWriter

	// ID returns the unique connection identifier.
	ID() string

	// State returns the current connection state.
	State() ConnectionState

	// PeerCertificate returns the certificate the peer presented.
	PeerCertificate() *x509.Certificate

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Promote marks a pairing session as established.
	Promote() bool

	// Close closes the session.
	Close() error
}

// TransportServer is a concurrent accept loop.
// Implemented by Server.
type TransportServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

var (
	_ MessageReadWriter = (*Framer)(nil)
	_ Session           = (*Conn)(nil)
	_ TransportServer   = (*Server)(nil)
)
