package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>...",
		Short: "Connect to the paired server, send each argument as one message and disconnect",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext()
			defer cancel()

			addr := ""
			if resolve := e.resolver(); resolve != nil {
				if addr, err = resolve(ctx); err != nil {
					return fmt.Errorf("discover server: %w", err)
				}
			}
			client, err := e.newClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			for _, text := range args {
				if err := client.SendData(ctx, []byte(text)); err != nil {
					return err
				}
			}
			fmt.Printf("Sent %d message(s)\n", len(args))
			return nil
		},
	}
}
