package localsync_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/localsync/localsync-go/internal/config"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/service"
	"github.com/localsync/localsync-go/pkg/transport"
)

// TestE2E_DiscoverPairAndSync finds a continuous server via mDNS, pairs
// with it and reconnects under the established policy.
func TestE2E_DiscoverPairAndSync(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	serverCfg := newConfig(t, "server")
	serverCfg.Server.Address = ":0"
	serverCfg.Server.Advertise = true

	var (
		mu       sync.Mutex
		received []string
	)
	got := make(chan struct{}, 4)
	handler := service.DataHandlerFunc(func(_ context.Context, _ transport.Session, data []byte) {
		mu.Lock()
		received = append(received, string(data))
		mu.Unlock()
		got <- struct{}{}
	})

	serverStore, err := serverCfg.OpenTrustStore()
	if err != nil {
		t.Fatalf("Failed to open server store: %v", err)
	}
	sc := serverCfg.SyncServerConfig(serverStore, nil, nil, handler)
	sc.Advertiser = discovery.NewMDNSAdvertiser(serverCfg.AdvertiserConfig())

	srv, err := service.NewSyncServer(sc)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop()

	secret, err := srv.OpenPairingWindow()
	if err != nil {
		t.Fatalf("Failed to open pairing window: %v", err)
	}

	// Give mDNS time to propagate
	time.Sleep(500 * time.Millisecond)

	clientCfg := newConfig(t, "client")
	clientStore, err := clientCfg.OpenTrustStore()
	if err != nil {
		t.Fatalf("Failed to open client store: %v", err)
	}
	defer clientStore.Close()

	// The server certificate travels out of band.
	importer, err := service.NewClient(clientCfg.ClientConfig(clientStore, nil, nil))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := importer.ImportRemoteCertificate(base64.StdEncoding.EncodeToString(srv.PublicKeyBytes())); err != nil {
		t.Fatalf("Failed to import server certificate: %v", err)
	}

	browser := discovery.NewMDNSBrowser(clientCfg.BrowserConfig())
	defer browser.Stop()

	browseCtx, browseCancel := context.WithTimeout(ctx, 5*time.Second)
	defer browseCancel()
	addr, err := service.ResolveAddress(browseCtx, browser, clientStore)
	if err != nil {
		t.Fatalf("Failed to resolve server: %v", err)
	}

	cc := clientCfg.ClientConfig(clientStore, nil, nil)
	cc.Address = addr
	client, err := service.NewClient(cc)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	if err := client.Pair(ctx, secret); err != nil {
		t.Fatalf("Failed to pair: %v", err)
	}
	if err := client.SendData(ctx, []byte("first")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Failed to disconnect: %v", err)
	}

	// Second session needs no pairing.
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to reconnect: %v", err)
	}
	if err := client.SendData(ctx, []byte("second")); err != nil {
		t.Fatalf("Failed to send after reconnect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close client: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for data")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != "first" || received[1] != "second" {
		t.Errorf("Unexpected data: %q", received)
	}
}

// TestE2E_ProtocolLog pairs a step server with a client, both configured
// from YAML, and checks what the protocol log recorded.
func TestE2E_ProtocolLog(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverCfg := newConfig(t, "server")
	serverCfg.Log.ProtocolLog = filepath.Join(t.TempDir(), "server.lslog")

	serverStore, err := serverCfg.OpenTrustStore()
	if err != nil {
		t.Fatalf("Failed to open server store: %v", err)
	}
	protocol, closeLog, err := serverCfg.OpenProtocolLogger(discardLogger(t, serverCfg))
	if err != nil {
		t.Fatalf("Failed to open protocol log: %v", err)
	}

	srv, err := service.NewServer(serverCfg.ServerConfig(serverStore, nil, protocol))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	clientCfg := newConfig(t, "client")
	clientStore, err := clientCfg.OpenTrustStore()
	if err != nil {
		t.Fatalf("Failed to open client store: %v", err)
	}
	cc := clientCfg.ClientConfig(clientStore, nil, nil)
	cc.Address = srv.Addr().String()
	client, err := service.NewClient(cc)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.ImportRemoteCertificate(base64.StdEncoding.EncodeToString(srv.PublicKeyBytes())); err != nil {
		t.Fatalf("Failed to import server certificate: %v", err)
	}

	secret, err := srv.PreparePair()
	if err != nil {
		t.Fatalf("Failed to prepare pairing: %v", err)
	}
	accepted := make(chan error, 1)
	go func() { accepted <- srv.AcceptPairRequest(ctx) }()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := client.Pair(ctx, secret); err != nil {
		t.Fatalf("Failed to pair: %v", err)
	}
	if err := <-accepted; err != nil {
		t.Fatalf("Server failed to accept pairing: %v", err)
	}

	payload := []byte("logged payload")
	received := make(chan service.DataResponse, 1)
	go func() { received <- srv.ReceiveData(ctx) }()
	if err := client.SendData(ctx, payload); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if resp := <-received; !resp.OK() || string(resp.Data) != string(payload) {
		t.Fatalf("Unexpected response: %+v", resp)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close client: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if err := closeLog(); err != nil {
		t.Fatalf("Failed to close protocol log: %v", err)
	}

	reader, err := log.NewReader(serverCfg.Log.ProtocolLog)
	if err != nil {
		t.Fatalf("Failed to open protocol log: %v", err)
	}
	defer reader.Close()

	var pairings, framesIn, framesOut int
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if event.LocalRole != log.RoleServer {
			t.Errorf("Unexpected role %s", event.LocalRole)
		}
		switch {
		case event.Pairing != nil && event.Pairing.Success:
			pairings++
		case event.Frame != nil && event.Direction == log.DirectionIn:
			framesIn++
		case event.Frame != nil && event.Direction == log.DirectionOut:
			framesOut++
		}
	}

	if pairings != 1 {
		t.Errorf("Expected 1 successful pairing, got %d", pairings)
	}
	// Pairing request and data in; pairing response and ACK out.
	if framesIn != 2 || framesOut != 2 {
		t.Errorf("Expected 2 frames each way, got %d in and %d out", framesIn, framesOut)
	}
}

// newConfig returns a configuration with a trust store file of its own.
func newConfig(t *testing.T, name string) *config.Config {
	t.Helper()
	data := fmt.Sprintf(`
server:
  address: "127.0.0.1:0"
client:
  connect_attempts: 1
store:
  path: %s
log:
  level: error
`, filepath.Join(t.TempDir(), name+".json"))

	cfg, err := config.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	return cfg
}

func discardLogger(t *testing.T, cfg *config.Config) *slog.Logger {
	t.Helper()
	logger, err := cfg.NewLogger(io.Discard)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}
