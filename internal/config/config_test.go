package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/persistence"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "localhost:8080", cfg.Client.Address)
	assert.Equal(t, 5*time.Minute, cfg.Server.PairingTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse(t *testing.T) {
	data := []byte(`
server:
  address: ":9000"
  pairing_timeout: 90s
  advertise: true
client:
  address: "10.0.0.5:9000"
  connect_attempts: 5
store:
  path: /var/lib/localsync/store.json
log:
  level: debug
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 90*time.Second, cfg.Server.PairingTimeout)
	assert.True(t, cfg.Server.Advertise)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "unset keys keep their defaults")
	assert.Equal(t, "10.0.0.5:9000", cfg.Client.Address)
	assert.Equal(t, 5, cfg.Client.ConnectAttempts)
	assert.Equal(t, "/var/lib/localsync/store.json", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "server:\n  port: 1\n"},
		{"bad duration", "server:\n  read_timeout: soon\n"},
		{"negative timeout", "client:\n  read_timeout: -1s\n"},
		{"negative attempts", "client:\n  connect_attempts: -2\n"},
		{"bad level", "log:\n  level: chatty\n"},
		{"not yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "localsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestStorePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := Default()
	cfg.Store.Path = "~/.localsync/store.json"
	p, err := cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".localsync/store.json"), p)

	cfg.Store.Path = "/abs/store.json"
	p, err = cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, "/abs/store.json", p)
}

func TestPassphraseFromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Store.Passphrase = "from-file"
	assert.Equal(t, "from-file", cfg.Passphrase())

	t.Setenv(PassphraseEnv, "from-env")
	assert.Equal(t, "from-env", cfg.Passphrase())
}

func TestOpenTrustStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	os.Unsetenv(PassphraseEnv)

	cfg := Default()
	store, err := cfg.OpenTrustStore()
	require.NoError(t, err)
	assert.False(t, store.IsPaired())

	cfg.Store.Path = filepath.Join(t.TempDir(), "store.json")
	cfg.Store.Passphrase = "correct horse"
	store, err = cfg.OpenTrustStore()
	require.NoError(t, err)
	_, err = store.GetOrGenerateLocal("server")
	require.NoError(t, err)
	require.NoError(t, store.Save())

	reopened, err := cfg.OpenTrustStore()
	require.NoError(t, err)
	assert.Equal(t, []string{"server"}, reopened.LocalNames())

	cfg.Store.Passphrase = "wrong"
	_, err = cfg.OpenTrustStore()
	assert.ErrorIs(t, err, persistence.ErrWrongPassphrase)
}

func TestOpenProtocolLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Level = "debug"
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	plog, closeFn, err := cfg.OpenProtocolLogger(logger)
	require.NoError(t, err)
	plog.Log(log.Event{Category: log.CategoryState, StateChange: &log.StateChangeEvent{NewState: "IDLE"}})
	require.NoError(t, closeFn())
	assert.Contains(t, buf.String(), "IDLE")

	cfg.Log.ProtocolLog = filepath.Join(t.TempDir(), "events.lslog")
	plog, closeFn, err = cfg.OpenProtocolLogger(logger)
	require.NoError(t, err)
	plog.Log(log.Event{Category: log.CategoryError, Error: &log.ErrorEventData{Message: "boom"}})
	require.NoError(t, closeFn())

	reader, err := log.NewReader(cfg.Log.ProtocolLog)
	require.NoError(t, err)
	defer reader.Close()
	event, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, event.Error)
	assert.Equal(t, "boom", event.Error.Message)
}

func TestServiceConfigs(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxPayloadSize = 1024
	cfg.Client.Address = ""

	sc := cfg.ServerConfig(nil, nil, nil)
	assert.Equal(t, ":8080", sc.Address)
	assert.Equal(t, 1024, sc.MaxPayloadSize)
	require.NoError(t, sc.Validate())

	cc := cfg.ClientConfig(nil, nil, nil)
	assert.NotEmpty(t, cc.Address, "empty address falls back to the library default")
	assert.Equal(t, 3, cc.ConnectAttempts)
	require.NoError(t, cc.Validate())

	bc := cfg.BrowserConfig()
	assert.Equal(t, 10*time.Second, bc.BrowseTimeout)
}
