package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/localsync-go/pkg/cert"
)

func TestServerStateString(t *testing.T) {
	tests := []struct {
		state ServerState
		want  string
	}{
		{ServerIdle, "IDLE"},
		{ServerPairingPrepared, "PAIRING_PREPARED"},
		{ServerAwaitingPairingConnection, "AWAITING_PAIRING_CONNECTION"},
		{ServerVerifyingSecret, "VERIFYING_SECRET"},
		{ServerPaired, "PAIRED"},
		{ServerPairingFailed, "PAIRING_FAILED"},
		{ServerAwaitingConnection, "AWAITING_CONNECTION"},
		{ServerConnected, "CONNECTED"},
		{ServerState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestClientStateString(t *testing.T) {
	tests := []struct {
		state ClientState
		want  string
	}{
		{ClientIdle, "IDLE"},
		{ClientConnecting, "CONNECTING"},
		{ClientConnected, "CONNECTED"},
		{ClientPairing, "PAIRING"},
		{ClientPaired, "PAIRED"},
		{ClientState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestDataResponse(t *testing.T) {
	ok := successResponse([]byte("x"))
	assert.True(t, ok.OK())
	assert.Equal(t, "SUCCESS", ok.State.String())
	assert.NoError(t, ok.Err)

	boom := errors.New("boom")
	failed := errorResponse(fmt.Errorf("wrapped: %w", boom))
	assert.False(t, failed.OK())
	assert.Equal(t, "ERROR", failed.State.String())
	assert.ErrorIs(t, failed.Err, boom)
	assert.Nil(t, failed.Data)
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ServerConfig)
		valid  bool
	}{
		{"defaults", func(*ServerConfig) {}, true},
		{"no expiry", func(c *ServerConfig) { c.PairingTimeout = 0 }, true},
		{"negative pairing timeout", func(c *ServerConfig) { c.PairingTimeout = -time.Second }, false},
		{"negative read timeout", func(c *ServerConfig) { c.ReadTimeout = -time.Second }, false},
		{"negative payload limit", func(c *ServerConfig) { c.MaxPayloadSize = -1 }, false},
		{"reserved peer name", func(c *ServerConfig) { c.PeerName = cert.AcceptedRemoteName }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultServerConfig()
			tt.modify(&config)
			err := config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	srv, err := NewServer(ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, ServerIdle, srv.State())
	assert.Equal(t, []string{DefaultServerName}, srv.TrustStore().LocalNames())
	assert.Len(t, srv.Fingerprint(), 16)
	assert.Nil(t, srv.Addr())
	assert.NotEmpty(t, srv.PublicKeyBytes())
}

func TestSharedTrustStoreIdentities(t *testing.T) {
	store, err := cert.NewTrustStore(nil)
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{TrustStore: store})
	require.NoError(t, err)
	again, err := NewServer(ServerConfig{TrustStore: store})
	require.NoError(t, err)
	assert.Equal(t, srv.PublicKeyBytes(), again.PublicKeyBytes(), "identity is generated once per name")
}
