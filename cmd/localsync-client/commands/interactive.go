package commands

import (
	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/cmd/localsync-client/interactive"
)

func runInteractive(cmd *cobra.Command, args []string) error {
	session, err := interactive.New()
	if err != nil {
		return err
	}
	defer session.Close()

	e, err := setup(cmd, session.Stderr())
	if err != nil {
		return err
	}
	defer e.close()

	client, err := e.newClient("")
	if err != nil {
		return err
	}

	session.Attach(interactive.Options{
		Client:    client,
		Store:     e.store,
		NewClient: e.newClient,
		Resolve:   e.resolver(),
	})

	ctx, cancel := signalContext()
	defer cancel()
	session.Run(ctx, cancel)
	return nil
}
