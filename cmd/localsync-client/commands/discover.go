package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/pkg/discovery"
)

func discoverCmd() *cobra.Command {
	var pairingOnly bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List LocalSync servers announced on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext()
			defer cancel()
			bc := e.cfg.BrowserConfig()
			ctx, stop := context.WithTimeout(ctx, bc.BrowseTimeout)
			defer stop()

			browser := discovery.NewMDNSBrowser(bc)
			defer browser.Stop()

			results, err := browser.Browse(ctx)
			if err != nil {
				return err
			}
			if pairingOnly {
				results = discovery.FilterBrowseResults(ctx, results, discovery.FilterPairing())
			}

			accepted := e.store.Accepted()
			found := 0
			for svc := range results {
				found++
				marker := ""
				switch {
				case accepted != nil && svc.Matches(accepted):
					marker = " (paired)"
				case svc.Pairing:
					marker = " (pairing open)"
				}
				name := svc.Name
				if name == "" {
					name = svc.InstanceName
				}
				fmt.Printf("%-24s %-22s %s%s\n", name, svc.Address(), svc.Fingerprint, marker)
			}
			if found == 0 {
				fmt.Println("No servers found")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pairingOnly, "pairing", false, "only list servers with an open pairing window")
	return cmd
}
