package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/localsync/localsync-go/pkg/connection"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/transport"
	"github.com/localsync/localsync-go/pkg/wire"
)

// Client is the dialing role.
type Client struct {
	*endpoint

	config ClientConfig

	mu    sync.Mutex
	state ClientState
	conn  *transport.Conn

	onStateChange func(oldState, newState ClientState)
}

// NewClient creates a client. The local identity is generated on first use
// of config.Name in the trust store.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	ep, err := newEndpoint(config.TrustStore, config.Name, config.PeerName, log.RoleClient, config.Logger, config.ProtocolLogger)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint: ep,
		config:   config,
		state:    ClientIdle,
	}, nil
}

// State returns the current client state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange sets a callback for state changes.
func (c *Client) OnStateChange(fn func(oldState, newState ClientState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// Connect dials the server and pins its certificate, which must have been
// imported with ImportRemoteCertificate. Refused or unreachable servers are
// retried with backoff; a failed handshake is not retried.
//
// In TLS 1.3 a server that rejects the client certificate is only noticed
// on the first read, so Connect succeeds against an unpaired server and
// the following Pair or ReceiveData reports the failure.
func (c *Client) Connect(ctx context.Context) error {
	accepted := c.store.Accepted()
	if accepted == nil {
		return ErrNotPaired
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.state == ClientConnecting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	c.transition(ClientConnecting, "dialing "+c.config.Address)

	dialCfg := transport.DialConfig{
		Certificate:    c.identity.TLSCertificate(),
		ServerName:     c.config.ServerName,
		Policy:         transport.EstablishedPolicy(accepted),
		ConnectTimeout: c.config.ConnectTimeout,
		Conn:           c.connConfig(c.config.ReadTimeout, c.config.MaxPayloadSize),
	}

	var conn *transport.Conn
	err := connection.Retry(ctx, connection.RetryConfig{
		Attempts: c.config.ConnectAttempts,
		Backoff:  connection.NewBackoffWithConfig(c.config.Backoff),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.logger.Debug("connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}, func(ctx context.Context) error {
		dialed, err := transport.Dial(ctx, c.config.Address, dialCfg)
		if errors.Is(err, transport.ErrHandshakeFailed) {
			return connection.Permanent(err)
		}
		if err != nil {
			return err
		}
		conn = dialed
		return nil
	})
	if err != nil {
		c.transition(ClientIdle, "connect failed")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("connected", "conn_id", conn.ID(), "remote", conn.RemoteAddr())
	c.transition(ClientConnected, "handshake complete")
	return nil
}

// Pair presents the pairing secret. It succeeds iff the server answers with
// a pairing response; otherwise the client disconnects and returns
// ErrPairingFailed (wrapping ErrAuthenticationFailed when the server sent
// an Error frame).
func (c *Client) Pair(ctx context.Context, secret []byte) error {
	conn, err := c.connection(ClientConnected)
	if err != nil {
		return err
	}
	c.transition(ClientPairing, "sending pairing request")

	req := wire.NewPairingRequest(secret)
	if err := conn.WriteMessage(ctx, req); err != nil {
		c.drop(conn, "pair", err)
		return fmt.Errorf("%w: write request: %w", ErrPairingFailed, err)
	}
	resp, err := conn.ReadMessage(ctx)
	if err != nil {
		c.drop(conn, "pair", err)
		return fmt.Errorf("%w: read response: %w", ErrPairingFailed, err)
	}

	switch resp.Flags {
	case wire.TypePairingResponse:
		c.logPairing(conn, true, "")
		c.transition(ClientPaired, "pairing response received")
		return nil
	case wire.TypeError:
		err = fmt.Errorf("%w: %w", ErrPairingFailed, ErrAuthenticationFailed)
	default:
		err = fmt.Errorf("%w: %w: %s", ErrPairingFailed, ErrUnexpectedFrame, resp.Flags)
	}
	c.logPairing(conn, false, err.Error())
	c.drop(conn, "pair", err)
	return err
}

// SendData sends one data frame and waits for the matching ACK. Any
// failure closes the connection.
func (c *Client) SendData(ctx context.Context, data []byte) error {
	conn, err := c.connection(ClientConnected, ClientPaired)
	if err != nil {
		return err
	}
	if err := sendData(ctx, conn, data); err != nil {
		c.drop(conn, "send", err)
		return err
	}
	return nil
}

// ReceiveData reads one data frame and acknowledges it. Any failure closes
// the connection.
func (c *Client) ReceiveData(ctx context.Context) ([]byte, error) {
	conn, err := c.connection(ClientConnected, ClientPaired)
	if err != nil {
		return nil, err
	}
	data, err := receiveData(ctx, conn)
	if err != nil {
		c.drop(conn, "receive", err)
		return nil, err
	}
	return data, nil
}

// Disconnect closes the connection, aborting any pending read or write.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.transition(ClientIdle, "disconnected")
	return err
}

// Close disconnects and persists the trust store.
func (c *Client) Close() error {
	return errors.Join(c.Disconnect(), c.store.Save())
}

func (c *Client) connection(allowed ...ClientState) (*transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	for _, s := range allowed {
		if c.state == s {
			return c.conn, nil
		}
	}
	return nil, fmt.Errorf("%w: state %s", ErrBusy, c.state)
}

func (c *Client) drop(conn *transport.Conn, op string, err error) {
	c.logError(conn.ID(), op, err)
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.transition(ClientIdle, op+" failed")
}

func (c *Client) transition(newState ClientState, reason string) {
	c.mu.Lock()
	oldState := c.state
	c.state = newState
	notify := c.onStateChange
	c.mu.Unlock()

	if oldState == newState {
		return
	}
	c.logStateChange(log.StateEntityClient, oldState, newState, reason)
	if notify != nil {
		notify(oldState, newState)
	}
}
