package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localsync/localsync-go/pkg/cert"
)

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func testServerConfig() ServerConfig {
	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	return config
}

func testClientConfig(addr string) ClientConfig {
	config := DefaultClientConfig()
	config.Address = addr
	config.ConnectAttempts = 1
	config.ConnectTimeout = testTimeout
	return config
}

// newListeningServer creates a server listening on a loopback port.
func newListeningServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	srv, err := NewServer(config)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// newTrustingClient creates a client that has imported the server
// certificate.
func newTrustingClient(t *testing.T, srv *Server, config ClientConfig) *Client {
	t.Helper()
	client, err := NewClient(config)
	require.NoError(t, err)
	require.NoError(t, client.ImportRemoteCertificate(encodeKey(srv.PublicKeyBytes())))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func encodeKey(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}

// pairByImport pins both certificates out of band.
func pairByImport(t *testing.T, srv *Server, client *Client) {
	t.Helper()
	require.NoError(t, srv.ImportRemoteCertificate(encodeKey(client.PublicKeyBytes())))
}

// acceptAsync runs accept in the background and returns its result channel.
func acceptAsync(ctx context.Context, accept func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- accept(ctx)
	}()
	return done
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func requireAccepted(t *testing.T, store *cert.TrustStore, want []byte) {
	t.Helper()
	accepted := store.Accepted()
	require.NotNil(t, accepted, "no accepted certificate")
	require.Equal(t, want, accepted.Raw)
}
