package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/wire"
)

// ConnectionState is the lifecycle state of a Conn.
type ConnectionState int32

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates the socket or handshake is in progress.
	StateConnecting

	// StatePairing indicates an authenticated session whose peer has not
	// been accepted yet. Only the pairing exchange is allowed.
	StatePairing

	// StateEstablished indicates a session with an accepted peer.
	StateEstablished

	// StateClosed indicates the connection was closed.
	StateClosed
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StatePairing:
		return "PAIRING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	// ErrNotConnected indicates an operation on a missing or closed connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnConfig tunes the framing on a connection.
type ConnConfig struct {
	// ReadTimeout bounds each chunk read (default 30s).
	ReadTimeout time.Duration

	// MaxPayloadSize bounds accepted payloads (default 16 MiB).
	MaxPayloadSize int

	// Logger receives protocol events (optional).
	Logger log.Logger

	// Role is recorded in protocol events.
	Role log.Role
}

// Conn is one TLS session carrying framed messages. Reads and writes may
// proceed concurrently with each other, but the protocol is stop-and-wait so
// callers normally drive a Conn from a single goroutine.
type Conn struct {
	tls    *tls.Conn
	framer *Framer
	config ConnConfig
	connID string
	peer   *x509.Certificate

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConn wraps an authenticated session. The initial state follows the
// policy the session was validated with: StatePairing for the pairing
// policy and StateEstablished otherwise. Closing parent closes the Conn.
func NewConn(parent context.Context, session *tls.Conn, p Policy, cfg ConnConfig) *Conn {
	c := &Conn{
		tls:    session,
		framer: NewFramer(session),
		config: cfg,
		connID: uuid.New().String(),
	}
	if certs := session.ConnectionState().PeerCertificates; len(certs) > 0 {
		c.peer = certs[0]
	}
	c.ctx, c.cancel = context.WithCancel(parent)
	context.AfterFunc(c.ctx, func() { c.Close() })

	c.framer.SetReadTimeout(cfg.ReadTimeout)
	c.framer.SetMaxPayloadSize(cfg.MaxPayloadSize)
	if cfg.Logger != nil {
		c.framer.SetLogger(cfg.Logger, c.connID, cfg.Role)
	}

	initial := StateEstablished
	if p.Kind() == PolicyPairing {
		initial = StatePairing
	}
	c.setState(initial, "handshake complete")
	return c
}

// ID returns the unique connection identifier.
func (c *Conn) ID() string {
	return c.connID
}

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// PeerCertificate returns the certificate the peer presented during the
// handshake. Under the pairing policy this is the captured certificate.
func (c *Conn) PeerCertificate() *x509.Certificate {
	return c.peer
}

// TLSState returns the TLS connection state.
func (c *Conn) TLSState() tls.ConnectionState {
	return c.tls.ConnectionState()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.tls.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.tls.RemoteAddr()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Promote moves a pairing connection to StateEstablished once its peer has
// been accepted.
func (c *Conn) Promote() bool {
	if !c.state.CompareAndSwap(int32(StatePairing), int32(StateEstablished)) {
		return false
	}
	c.logState(StatePairing, StateEstablished, "peer accepted")
	return true
}

// ReadMessage reads the next message. It is aborted when ctx is cancelled
// or the connection is closed.
func (c *Conn) ReadMessage(ctx context.Context) (wire.Message, error) {
	if !c.usable() {
		return wire.Message{}, ErrNotConnected
	}
	ctx, cancel := c.operationContext(ctx)
	defer cancel()
	m, err := c.framer.ReadMessage(ctx)
	if err != nil {
		return wire.Message{}, c.closedError(err)
	}
	return m, nil
}

// WriteMessage writes one message. It is aborted when ctx is cancelled or
// the connection is closed.
func (c *Conn) WriteMessage(ctx context.Context, m wire.Message) error {
	if !c.usable() {
		return ErrNotConnected
	}
	ctx, cancel := c.operationContext(ctx)
	defer cancel()
	if err := c.framer.WriteMessage(ctx, m); err != nil {
		return c.closedError(err)
	}
	return nil
}

// closedError reports failures caused by a local Close as ErrIOFailure,
// whichever way the pending operation noticed.
func (c *Conn) closedError(err error) error {
	if c.ctx.Err() == nil || errors.Is(err, ErrIOFailure) {
		return err
	}
	return fmt.Errorf("%w: closed locally: %w", ErrIOFailure, err)
}

// Close cancels pending operations and closes the socket. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosed))
		c.cancel()
		err = c.tls.Close()
		c.logState(old, StateClosed, "closed")
	})
	return err
}

func (c *Conn) usable() bool {
	s := c.State()
	return s == StatePairing || s == StateEstablished
}

// operationContext derives a context that is also cancelled when the
// connection closes.
func (c *Conn) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Conn) setState(s ConnectionState, reason string) {
	old := ConnectionState(c.state.Swap(int32(s)))
	c.logState(old, s, reason)
}

func (c *Conn) logState(old, s ConnectionState, reason string) {
	if c.config.Logger == nil {
		return
	}
	remote := ""
	if addr := c.tls.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	peer := ""
	if c.peer != nil {
		peer = c.peer.Subject.CommonName
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		LocalRole:    c.config.Role,
		RemoteAddr:   remote,
		PeerName:     peer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: s.String(),
			Reason:   reason,
		},
	})
}
