// Package service provides the LocalSync server and client roles.
//
// This package ties the trust store, the TLS session adapter and the framing
// layer together into the pairing and data transfer state machines.
//
// # Server
//
// Server drives one connection at a time through an explicit state machine:
//
//	Idle -> PairingPrepared -> AwaitingPairingConnection -> VerifyingSecret -> Paired -> Connected
//	                                                                         \-> PairingFailed
//	Idle -> AwaitingConnection -> Connected
//
// Example usage:
//
//	srv, err := service.NewServer(service.DefaultServerConfig())
//	srv.Listen()
//	secret, _ := srv.PreparePair()
//	// transfer srv.PublicKeyBytes() and secret to the client operator
//	err = srv.AcceptPairRequest(ctx)
//	resp := srv.ReceiveData(ctx)
//
// SendData and ReceiveData on the server never return an error value;
// they report the outcome in a DataResponse so that a broken exchange
// cannot take the server down.
//
// # Client
//
//	Idle -> Connecting -> Connected -> Pairing -> Paired
//
// Example usage:
//
//	cl, err := service.NewClient(config)
//	cl.ImportRemoteCertificate(serverCertBase64)
//	cl.Connect(ctx)
//	cl.Pair(ctx, secret)
//	cl.SendData(ctx, []byte("hello"))
//
// # SyncServer
//
// SyncServer keeps listening and serves any number of connections, each
// with its own stop-and-wait receive loop. While its pairing window is open
// new connections are handled under the pairing policy and must start with
// a pairing request.
//
// # Stop-and-Wait
//
// Every data frame is acknowledged with an ACK frame carrying the received
// length before the next frame may be sent. A missing or mismatched ACK is
// fatal to the connection.
package service
