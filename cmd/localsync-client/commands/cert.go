package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func certCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cert",
		Short: "Print the client certificate for the server to import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer e.close()

			client, err := e.newClient("")
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", client.Fingerprint())
			fmt.Printf("Certificate: %s\n", base64.StdEncoding.EncodeToString(client.PublicKeyBytes()))
			return nil
		},
	}
}
