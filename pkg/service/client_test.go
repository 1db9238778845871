package service

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/connection"
	"github.com/localsync/localsync-go/pkg/persistence"
)

func TestClientNotConnected(t *testing.T) {
	ctx := testContext(t)
	client, err := NewClient(testClientConfig("127.0.0.1:1"))
	require.NoError(t, err)

	assert.ErrorIs(t, client.SendData(ctx, []byte("x")), ErrNotConnected)
	_, err = client.ReceiveData(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, client.Pair(ctx, []byte("secret")), ErrNotConnected)
	assert.ErrorIs(t, client.Connect(ctx), ErrNotPaired)
	assert.NoError(t, client.Disconnect())
	assert.Equal(t, ClientIdle, client.State())
}

func TestClientConfigValidate(t *testing.T) {
	config := DefaultClientConfig()
	require.NoError(t, config.Validate())

	config.Address = ""
	assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

	config = DefaultClientConfig()
	config.PeerName = cert.AcceptedRemoteName
	assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

	config = DefaultClientConfig()
	config.ReadTimeout = -time.Second
	_, err := NewClient(config)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClientConnectRetriesUntilExhausted(t *testing.T) {
	// Reserve a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	peer, err := cert.GenerateSelfSigned("server")
	require.NoError(t, err)

	config := testClientConfig(addr)
	config.ConnectAttempts = 3
	config.Backoff = connection.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	client, err := NewClient(config)
	require.NoError(t, err)
	require.NoError(t, client.ImportRemoteCertificate(encodeKey(peer.PublicKeyBytes())))

	var states []ClientState
	client.OnStateChange(func(_, newState ClientState) {
		states = append(states, newState)
	})

	err = client.Connect(testContext(t))
	require.ErrorIs(t, err, connection.ErrAttemptsExhausted)
	assert.Equal(t, []ClientState{ClientConnecting, ClientIdle}, states)
}

func TestClientConnectCancelled(t *testing.T) {
	peer, err := cert.GenerateSelfSigned("server")
	require.NoError(t, err)

	client, err := NewClient(testClientConfig("127.0.0.1:1"))
	require.NoError(t, err)
	require.NoError(t, client.ImportRemoteCertificate(encodeKey(peer.PublicKeyBytes())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.Connect(ctx), context.Canceled)
	assert.Equal(t, ClientIdle, client.State())
}

func TestClientRejectsWrongServer(t *testing.T) {
	ctx := testContext(t)
	srv := newListeningServer(t, testServerConfig())

	impostor, err := cert.GenerateSelfSigned("server")
	require.NoError(t, err)

	client, err := NewClient(testClientConfig(srv.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, client.ImportRemoteCertificate(encodeKey(impostor.PublicKeyBytes())))

	_, err = srv.PreparePair()
	require.NoError(t, err)
	acceptCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	accepted := acceptAsync(acceptCtx, srv.AcceptPairRequest)

	err = client.Connect(ctx)
	require.Error(t, err, "the server certificate is not the pinned one")
	assert.Equal(t, ClientIdle, client.State())
	assert.Error(t, waitErr(t, accepted))
}

func TestClientConnectTwice(t *testing.T) {
	ctx := testContext(t)
	srv := newListeningServer(t, testServerConfig())
	client := newTrustingClient(t, srv, testClientConfig(srv.Addr().String()))
	pairByImport(t, srv, client)

	accepted := acceptAsync(ctx, srv.AcceptConnection)
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, waitErr(t, accepted))

	assert.ErrorIs(t, client.Connect(ctx), ErrAlreadyConnected)
	assert.Equal(t, ClientConnected, client.State())
}

func TestPairingPersistsAcrossRestart(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()

	serverStore, err := cert.NewTrustStore(persistence.NewFileProvider(filepath.Join(dir, "server.json")))
	require.NoError(t, err)
	clientStore, err := cert.NewTrustStore(persistence.NewFileProvider(filepath.Join(dir, "client.json")))
	require.NoError(t, err)

	serverConfig := testServerConfig()
	serverConfig.TrustStore = serverStore
	srv := newListeningServer(t, serverConfig)

	clientConfig := testClientConfig(srv.Addr().String())
	clientConfig.TrustStore = clientStore
	client := newTrustingClient(t, srv, clientConfig)

	secret, err := srv.PreparePair()
	require.NoError(t, err)
	accepted := acceptAsync(ctx, srv.AcceptPairRequest)
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Pair(ctx, secret))
	require.NoError(t, waitErr(t, accepted))

	require.NoError(t, client.Close())
	require.NoError(t, srv.Stop())

	// Reload both stores from disk and reconnect without pairing.
	serverStore, err = cert.NewTrustStore(persistence.NewFileProvider(filepath.Join(dir, "server.json")))
	require.NoError(t, err)
	clientStore, err = cert.NewTrustStore(persistence.NewFileProvider(filepath.Join(dir, "client.json")))
	require.NoError(t, err)
	require.True(t, serverStore.IsPaired())
	require.True(t, clientStore.IsPaired())

	serverConfig.TrustStore = serverStore
	srv2 := newListeningServer(t, serverConfig)
	assert.Equal(t, srv.Fingerprint(), srv2.Fingerprint(), "identity survives restart")

	clientConfig.Address = srv2.Addr().String()
	clientConfig.TrustStore = clientStore
	client2, err := NewClient(clientConfig)
	require.NoError(t, err)
	defer client2.Close()

	accepted = acceptAsync(ctx, srv2.AcceptConnection)
	require.NoError(t, client2.Connect(ctx))
	require.NoError(t, waitErr(t, accepted))

	received := make(chan DataResponse, 1)
	go func() { received <- srv2.ReceiveData(ctx) }()
	require.NoError(t, client2.SendData(ctx, []byte("again")))
	assert.Equal(t, []byte("again"), (<-received).Data)
}
