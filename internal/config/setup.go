package config

import (
	"io"
	"log/slog"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/persistence"
	"github.com/localsync/localsync-go/pkg/service"
)

// NewLogger creates a text logger writing to w at c.Log.Level.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// OpenProtocolLogger returns the protocol event sink. Events go to the
// protocol log file when one is configured and to logger at debug level.
// The returned function closes the file.
func (c *Config) OpenProtocolLogger(logger *slog.Logger) (log.Logger, func() error, error) {
	adapter := log.NewSlogAdapter(logger)
	if c.Log.ProtocolLog == "" {
		return adapter, func() error { return nil }, nil
	}
	file, err := log.NewFileLogger(c.Log.ProtocolLog)
	if err != nil {
		return nil, nil, err
	}
	return log.NewMultiLogger(file, adapter), file.Close, nil
}

// OpenTrustStore opens the configured trust store. Without a path the
// store lives in memory; with a passphrase the file is encrypted.
func (c *Config) OpenTrustStore() (*cert.TrustStore, error) {
	path, err := c.StorePath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cert.NewTrustStore(nil)
	}
	var provider persistence.Provider = persistence.NewFileProvider(path)
	if pass := c.Passphrase(); pass != "" {
		provider = persistence.NewSecureFileProvider(path, pass, persistence.DefaultScryptParams())
	}
	return cert.NewTrustStore(provider)
}

// ServerConfig builds the server configuration.
func (c *Config) ServerConfig(store *cert.TrustStore, logger *slog.Logger, protocol log.Logger) service.ServerConfig {
	sc := service.DefaultServerConfig()
	s := c.Server
	sc.Address = s.Address
	sc.Name = s.Name
	sc.PeerName = s.PeerName
	sc.PairingTimeout = s.PairingTimeout
	sc.HandshakeTimeout = s.HandshakeTimeout
	sc.ReadTimeout = s.ReadTimeout
	if s.MaxPayloadSize > 0 {
		sc.MaxPayloadSize = s.MaxPayloadSize
	}
	sc.TrustStore = store
	sc.Logger = logger
	sc.ProtocolLogger = protocol
	return sc
}

// SyncServerConfig builds the continuous server configuration. The
// advertiser is left for the caller to set.
func (c *Config) SyncServerConfig(store *cert.TrustStore, logger *slog.Logger, protocol log.Logger, handler service.DataHandler) service.SyncServerConfig {
	return service.SyncServerConfig{
		ServerConfig: c.ServerConfig(store, logger, protocol),
		Handler:      handler,
		InstanceName: c.Server.InstanceName,
	}
}

// ClientConfig builds the client configuration.
func (c *Config) ClientConfig(store *cert.TrustStore, logger *slog.Logger, protocol log.Logger) service.ClientConfig {
	cc := service.DefaultClientConfig()
	s := c.Client
	if s.Address != "" {
		cc.Address = s.Address
	}
	if s.ServerName != "" {
		cc.ServerName = s.ServerName
	}
	cc.Name = s.Name
	cc.PeerName = s.PeerName
	if s.ConnectAttempts > 0 {
		cc.ConnectAttempts = s.ConnectAttempts
	}
	cc.ConnectTimeout = s.ConnectTimeout
	cc.ReadTimeout = s.ReadTimeout
	if s.MaxPayloadSize > 0 {
		cc.MaxPayloadSize = s.MaxPayloadSize
	}
	cc.TrustStore = store
	cc.Logger = logger
	cc.ProtocolLogger = protocol
	return cc
}

// AdvertiserConfig builds the mDNS advertiser configuration.
func (c *Config) AdvertiserConfig() discovery.AdvertiserConfig {
	ac := discovery.DefaultAdvertiserConfig()
	ac.Interface = c.Server.Interface
	return ac
}

// BrowserConfig builds the mDNS browser configuration.
func (c *Config) BrowserConfig() discovery.BrowserConfig {
	bc := discovery.DefaultBrowserConfig()
	if c.Client.BrowseTimeout > 0 {
		bc.BrowseTimeout = c.Client.BrowseTimeout
	}
	bc.Interface = c.Client.Interface
	return bc
}
