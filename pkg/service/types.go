package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/connection"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/pairing"
	"github.com/localsync/localsync-go/pkg/transport"
)

// Service errors.
var (
	ErrPairingFailed        = errors.New("pairing failed")
	ErrAuthenticationFailed = errors.New("pairing secret mismatch")
	ErrNotPaired            = errors.New("no accepted remote certificate")
	ErrNotListening         = errors.New("server not listening")
	ErrAlreadyListening     = errors.New("server already listening")
	ErrAlreadyConnected     = errors.New("already connected")
	ErrBusy                 = errors.New("operation already in progress")
	ErrUnexpectedFrame      = errors.New("unexpected frame")
	ErrFrameRejected        = errors.New("frame rejected by peer")
	ErrInvalidConfig        = errors.New("invalid configuration")

	// ErrNotConnected indicates an operation invoked before connect or
	// accept completed.
	ErrNotConnected = transport.ErrNotConnected
)

// Default identity names.
const (
	DefaultServerName = "server"
	DefaultClientName = "client"
)

// ServerState is the state of a Server.
type ServerState uint8

const (
	ServerIdle ServerState = iota
	ServerPairingPrepared
	ServerAwaitingPairingConnection
	ServerVerifyingSecret
	ServerPaired
	ServerPairingFailed
	ServerAwaitingConnection
	ServerConnected
)

// String returns the state name.
func (s ServerState) String() string {
	switch s {
	case ServerIdle:
		return "IDLE"
	case ServerPairingPrepared:
		return "PAIRING_PREPARED"
	case ServerAwaitingPairingConnection:
		return "AWAITING_PAIRING_CONNECTION"
	case ServerVerifyingSecret:
		return "VERIFYING_SECRET"
	case ServerPaired:
		return "PAIRED"
	case ServerPairingFailed:
		return "PAIRING_FAILED"
	case ServerAwaitingConnection:
		return "AWAITING_CONNECTION"
	case ServerConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ClientState is the state of a Client.
type ClientState uint8

const (
	ClientIdle ClientState = iota
	ClientConnecting
	ClientConnected
	ClientPairing
	ClientPaired
)

// String returns the state name.
func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "IDLE"
	case ClientConnecting:
		return "CONNECTING"
	case ClientConnected:
		return "CONNECTED"
	case ClientPairing:
		return "PAIRING"
	case ClientPaired:
		return "PAIRED"
	default:
		return "UNKNOWN"
	}
}

// ResponseState is the outcome of a server data exchange.
type ResponseState uint8

const (
	ResponseSuccess ResponseState = iota
	ResponseError
)

// String returns the outcome name.
func (s ResponseState) String() string {
	switch s {
	case ResponseSuccess:
		return "SUCCESS"
	case ResponseError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DataResponse reports the outcome of Server.SendData and
// Server.ReceiveData.
type DataResponse struct {
	State ResponseState

	// Data is the received payload (ReceiveData only).
	Data []byte

	// Err is the cause of a failure.
	Err error
}

// OK reports whether the exchange succeeded.
func (r DataResponse) OK() bool {
	return r.State == ResponseSuccess
}

func successResponse(data []byte) DataResponse {
	return DataResponse{State: ResponseSuccess, Data: data}
}

func errorResponse(err error) DataResponse {
	return DataResponse{State: ResponseError, Err: err}
}

// ServerConfig configures a Server. It is also the base of SyncServerConfig.
type ServerConfig struct {
	// Address is the address to listen on (default ":4820").
	Address string

	// Name is the local identity name (default "server").
	Name string

	// PeerName is the name imported remote certificates are stored under
	// (default "client").
	PeerName string

	// TrustStore holds identities and the accepted peer. If nil, an
	// in-memory store is used.
	TrustStore *cert.TrustStore

	// PairingTimeout is how long a pairing secret stays valid.
	// Zero disables expiry.
	PairingTimeout time.Duration

	// HandshakeTimeout bounds each inbound TLS handshake (default 10s).
	HandshakeTimeout time.Duration

	// ReadTimeout bounds each chunk read (default 30s).
	ReadTimeout time.Duration

	// MaxPayloadSize bounds accepted payloads (default 16 MiB).
	MaxPayloadSize int

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives structured protocol events (optional).
	ProtocolLogger log.Logger
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          fmt.Sprintf(":%d", transport.DefaultPort),
		Name:             DefaultServerName,
		PeerName:         DefaultClientName,
		PairingTimeout:   pairing.DefaultWindowTimeout,
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		ReadTimeout:      transport.DefaultReadTimeout,
		MaxPayloadSize:   transport.DefaultMaxPayloadSize,
	}
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.PairingTimeout < 0 {
		return fmt.Errorf("%w: negative pairing timeout", ErrInvalidConfig)
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: negative payload limit", ErrInvalidConfig)
	}
	if c.PeerName == cert.AcceptedRemoteName {
		return fmt.Errorf("%w: peer name %q is reserved", ErrInvalidConfig, c.PeerName)
	}
	return nil
}

func (c *ServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if c.Name == "" {
		c.Name = DefaultServerName
	}
	if c.PeerName == "" {
		c.PeerName = DefaultClientName
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address of the server (host:port).
	Address string

	// ServerName is sent as SNI. It plays no part in validation.
	ServerName string

	// Name is the local identity name (default "client").
	Name string

	// PeerName is the name the imported server certificate is stored under
	// (default "server").
	PeerName string

	// TrustStore holds identities and the accepted peer. If nil, an
	// in-memory store is used.
	TrustStore *cert.TrustStore

	// ConnectAttempts is the number of dial attempts (default 3).
	ConnectAttempts int

	// Backoff configures the delay between dial attempts.
	Backoff connection.BackoffConfig

	// ConnectTimeout bounds each dial plus handshake (default 30s).
	ConnectTimeout time.Duration

	// ReadTimeout bounds each chunk read (default 30s).
	ReadTimeout time.Duration

	// MaxPayloadSize bounds accepted payloads (default 16 MiB).
	MaxPayloadSize int

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives structured protocol events (optional).
	ProtocolLogger log.Logger
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:         fmt.Sprintf("localhost:%d", transport.DefaultPort),
		ServerName:      DefaultServerName,
		Name:            DefaultClientName,
		PeerName:        DefaultServerName,
		ConnectAttempts: connection.DefaultAttempts,
		Backoff:         connection.DefaultBackoffConfig(),
		ConnectTimeout:  transport.DefaultConnectTimeout,
		ReadTimeout:     transport.DefaultReadTimeout,
		MaxPayloadSize:  transport.DefaultMaxPayloadSize,
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalidConfig)
	}
	if c.ConnectAttempts < 0 {
		return fmt.Errorf("%w: negative connect attempts", ErrInvalidConfig)
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: negative payload limit", ErrInvalidConfig)
	}
	if c.PeerName == cert.AcceptedRemoteName {
		return fmt.Errorf("%w: peer name %q is reserved", ErrInvalidConfig, c.PeerName)
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.Name == "" {
		c.Name = DefaultClientName
	}
	if c.PeerName == "" {
		c.PeerName = DefaultServerName
	}
}

// SyncServerConfig configures a SyncServer.
type SyncServerConfig struct {
	ServerConfig

	// Handler receives every data payload (required).
	Handler DataHandler

	// Advertiser announces the server via mDNS (optional).
	Advertiser discovery.Advertiser

	// InstanceName is the mDNS instance name (default derived from the
	// certificate fingerprint).
	InstanceName string
}

// DefaultSyncServerConfig returns the default sync server configuration.
func DefaultSyncServerConfig() SyncServerConfig {
	return SyncServerConfig{ServerConfig: DefaultServerConfig()}
}

// Validate checks the configuration.
func (c *SyncServerConfig) Validate() error {
	if c.Handler == nil {
		return fmt.Errorf("%w: data handler is required", ErrInvalidConfig)
	}
	if c.InstanceName != "" {
		if err := discovery.ValidateInstanceName(c.InstanceName); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return c.ServerConfig.Validate()
}
