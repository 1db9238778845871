package transport_test

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/transport"
)

func newIdentity(t *testing.T, name string) *cert.Identity {
	t.Helper()
	id, err := cert.GenerateSelfSigned(name)
	if err != nil {
		t.Fatalf("GenerateSelfSigned(%q): %v", name, err)
	}
	return id
}

type handshakeResult struct {
	conn *tls.Conn
	err  error
}

// handshakePair runs both sides of a handshake over loopback TCP.
func handshakePair(t *testing.T, server, client *cert.Identity, serverPolicy, clientPolicy transport.Policy) (srv, cli handshakeResult) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srvCh := make(chan handshakeResult, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			srvCh <- handshakeResult{err: err}
			return
		}
		conn, err := transport.ServerHandshake(ctx, raw, server.TLSCertificate(), serverPolicy)
		srvCh <- handshakeResult{conn: conn, err: err}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := transport.ClientHandshake(ctx, raw, "server", client.TLSCertificate(), clientPolicy)
	cli = handshakeResult{conn: conn, err: err}
	srv = <-srvCh

	t.Cleanup(func() {
		if srv.conn != nil {
			srv.conn.Close()
		}
		if cli.conn != nil {
			cli.conn.Close()
		}
	})
	return srv, cli
}
