package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/service"
	"github.com/localsync/localsync-go/pkg/transport"
)

func syncCmd() *cobra.Command {
	var advertise bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Serve the paired client continuously, reconnecting as often as it likes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			if cmd.Flags().Changed("advertise") {
				e.cfg.Server.Advertise = advertise
			}

			handler := service.DataHandlerFunc(func(_ context.Context, _ transport.Session, data []byte) {
				fmt.Printf("%s < %s\n", time.Now().Format("15:04:05"), data)
			})
			sc := e.cfg.SyncServerConfig(e.store, e.logger, e.protocol, handler)
			if e.cfg.Server.Advertise {
				sc.Advertiser = discovery.NewMDNSAdvertiser(e.cfg.AdvertiserConfig())
			}

			srv, err := service.NewSyncServer(sc)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("Listening on %s\n", srv.Addr())
			fmt.Printf("Fingerprint: %s\n", srv.Fingerprint())
			fmt.Printf("Certificate: %s\n", base64.StdEncoding.EncodeToString(srv.PublicKeyBytes()))

			if !e.store.IsPaired() {
				secret, err := srv.OpenPairingWindow()
				if err != nil {
					_ = srv.Stop()
					return err
				}
				printSecret(srv.Fingerprint(), secret)
			}

			<-ctx.Done()
			fmt.Println("Shutting down")
			return srv.Stop()
		},
	}

	cmd.Flags().BoolVar(&advertise, "advertise", false, "announce the server via mDNS")
	return cmd
}
