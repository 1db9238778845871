// Package config loads the YAML configuration shared by the localsync
// command line programs.
//
// Example:
//
//	server:
//	  address: ":8080"
//	  pairing_timeout: 5m
//	  advertise: true
//	client:
//	  address: "192.168.1.20:8080"
//	  connect_attempts: 5
//	store:
//	  path: ~/.localsync/server.json
//	log:
//	  level: debug
//	  protocol_log: /tmp/server.lslog
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port the demo programs use.
const DefaultPort = 8080

// PassphraseEnv overrides Store.Passphrase when set.
const PassphraseEnv = "LOCALSYNC_PASSPHRASE"

// ErrInvalidConfig indicates a configuration file with invalid values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of a configuration file.
type Config struct {
	Server ServerSection `yaml:"server"`
	Client ClientSection `yaml:"client"`
	Store  StoreSection  `yaml:"store"`
	Log    LogSection    `yaml:"log"`
}

// ServerSection configures localsync-server.
type ServerSection struct {
	Address          string        `yaml:"address"`
	Name             string        `yaml:"name"`
	PeerName         string        `yaml:"peer_name"`
	PairingTimeout   time.Duration `yaml:"pairing_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MaxPayloadSize   int           `yaml:"max_payload_size"`
	Advertise        bool          `yaml:"advertise"`
	InstanceName     string        `yaml:"instance_name"`
	Interface        string        `yaml:"interface"`
}

// ClientSection configures localsync-client.
type ClientSection struct {
	// Address of the server. Empty means discover it via mDNS.
	Address         string        `yaml:"address"`
	ServerName      string        `yaml:"server_name"`
	Name            string        `yaml:"name"`
	PeerName        string        `yaml:"peer_name"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxPayloadSize  int           `yaml:"max_payload_size"`
	BrowseTimeout   time.Duration `yaml:"browse_timeout"`
	Interface       string        `yaml:"interface"`
}

// StoreSection configures trust store persistence.
type StoreSection struct {
	// Path of the trust store file. Empty keeps the store in memory.
	Path string `yaml:"path"`

	// Passphrase encrypts the file when set.
	Passphrase string `yaml:"passphrase"`
}

// LogSection configures logging.
type LogSection struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// ProtocolLog is a file receiving CBOR protocol events (optional).
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Address:          fmt.Sprintf(":%d", DefaultPort),
			PairingTimeout:   5 * time.Minute,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      30 * time.Second,
		},
		Client: ClientSection{
			Address:         fmt.Sprintf("localhost:%d", DefaultPort),
			ConnectAttempts: 3,
			ConnectTimeout:  30 * time.Second,
			ReadTimeout:     30 * time.Second,
			BrowseTimeout:   10 * time.Second,
		},
		Log: LogSection{Level: "info"},
	}
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"server.pairing_timeout":   c.Server.PairingTimeout,
		"server.handshake_timeout": c.Server.HandshakeTimeout,
		"server.read_timeout":      c.Server.ReadTimeout,
		"client.connect_timeout":   c.Client.ConnectTimeout,
		"client.read_timeout":      c.Client.ReadTimeout,
		"client.browse_timeout":    c.Client.BrowseTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.Client.ConnectAttempts < 0 {
		return fmt.Errorf("%w: client.connect_attempts must not be negative", ErrInvalidConfig)
	}
	if c.Server.MaxPayloadSize < 0 || c.Client.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: max_payload_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// StorePath returns Store.Path with a leading ~ expanded.
func (c *Config) StorePath() (string, error) {
	p := c.Store.Path
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, nil
}

// Passphrase returns the trust store passphrase, preferring the
// environment.
func (c *Config) Passphrase() string {
	if v, ok := os.LookupEnv(PassphraseEnv); ok {
		return v
	}
	return c.Store.Passphrase
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
}
