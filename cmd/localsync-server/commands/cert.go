package commands

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/pkg/service"
)

func certCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cert",
		Short: "Print the server certificate for the client to import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			srv, err := service.NewServer(e.cfg.ServerConfig(e.store, e.logger, e.protocol))
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", srv.Fingerprint())
			fmt.Printf("Certificate: %s\n", base64.StdEncoding.EncodeToString(srv.PublicKeyBytes()))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <base64-certificate>",
		Short: "Trust a client certificate without running the pairing exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			srv, err := service.NewServer(e.cfg.ServerConfig(e.store, e.logger, e.protocol))
			if err != nil {
				return err
			}
			if err := srv.ImportRemoteCertificate(args[0]); err != nil {
				return err
			}
			fmt.Println("Client certificate accepted")
			return nil
		},
	}
}
