package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/service"
)

// runServe drives the step server: pair once if needed, then accept the
// paired client and print every payload until interrupted.
func runServe(cmd *cobra.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	srv, err := service.NewServer(e.cfg.ServerConfig(e.store, e.logger, e.protocol))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Stop()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Listening on %s\n", srv.Addr())
	fmt.Printf("Fingerprint: %s\n", srv.Fingerprint())
	fmt.Printf("Certificate: %s\n", base64.StdEncoding.EncodeToString(srv.PublicKeyBytes()))

	if !e.store.IsPaired() {
		if err := pairOnce(ctx, srv); err != nil {
			return err
		}
	}

	for ctx.Err() == nil {
		fmt.Println("Waiting for the paired client...")
		if err := srv.AcceptConnection(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Warn("accept failed", "error", err)
			continue
		}
		fmt.Println("Client connected")
		receiveLoop(ctx, srv)
	}
	fmt.Println("Shutting down")
	return nil
}

// pairOnce prints a fresh secret and waits for the pairing connection,
// issuing a new secret after each failed attempt.
func pairOnce(ctx context.Context, srv *service.Server) error {
	for {
		secret, err := srv.PreparePair()
		if err != nil {
			return err
		}
		printSecret(srv.Fingerprint(), secret)

		err = srv.AcceptPairRequest(ctx)
		if err == nil {
			fmt.Println("Paired")
			// The pairing session stays open for data.
			receiveLoop(ctx, srv)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, cert.ErrAlreadyPaired) {
			return nil
		}
		fmt.Printf("Pairing failed: %v\n", err)
	}
}

func printSecret(fingerprint string, secret []byte) {
	fmt.Printf("Pairing secret: %s\n", base64.StdEncoding.EncodeToString(secret))
	if code, err := discovery.NewPairingCode(fingerprint, secret); err == nil {
		fmt.Printf("Pairing code:   %s\n", code)
	}
}

func receiveLoop(ctx context.Context, srv *service.Server) {
	for {
		resp := srv.ReceiveData(ctx)
		if !resp.OK() {
			if ctx.Err() == nil {
				fmt.Printf("Connection ended: %v\n", resp.Err)
			}
			return
		}
		fmt.Printf("< %s\n", resp.Data)
	}
}
