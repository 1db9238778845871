package service

import (
	"context"
	"net"
)

// PairingServer is the step-by-step server role.
// Implemented by Server.
type PairingServer interface {
	Listen() error
	Addr() net.Addr
	PublicKeyBytes() []byte
	ImportRemoteCertificate(encoded string) error
	PreparePair() ([]byte, error)
	AcceptPairRequest(ctx context.Context) error
	AcceptConnection(ctx context.Context) error
	SendData(ctx context.Context, data []byte) DataResponse
	ReceiveData(ctx context.Context) DataResponse
	CloseConnection() error
	Stop() error
}

// PairingClient is the client role.
// Implemented by Client.
type PairingClient interface {
	PublicKeyBytes() []byte
	ImportRemoteCertificate(encoded string) error
	Connect(ctx context.Context) error
	Pair(ctx context.Context, secret []byte) error
	SendData(ctx context.Context, data []byte) error
	ReceiveData(ctx context.Context) ([]byte, error)
	Disconnect() error
	Close() error
}

var (
	_ PairingServer = (*Server)(nil)
	_ PairingClient = (*Client)(nil)
	_ DataHandler   = DataHandlerFunc(nil)
)
