// Command localsync-log is a tool for viewing and analyzing LocalSync
// protocol log files.
//
// Log files are written by localsync-server and localsync-client when run
// with --protocol-log (or log.protocol_log in the configuration file).
//
// Usage:
//
//	localsync-log <command> [flags] <file.lslog>
//
// Examples:
//
//	# View all events
//	localsync-log view server.lslog
//
//	# View only pairing attempts
//	localsync-log view --category pairing server.lslog
//
//	# Export to CSV
//	localsync-log export --format csv -o server.csv server.lslog
//
//	# Keep one connection and save to a new file
//	localsync-log filter --conn-id 3f2a9c1e -o conn.lslog server.lslog
//
//	# Show statistics
//	localsync-log stats server.lslog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/cmd/localsync-log/commands"
)

func main() {
	root := &cobra.Command{
		Use:           "localsync-log",
		Short:         "LocalSync protocol log analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(viewCmd(), exportCmd(), filterCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addFilterFlags(cmd *cobra.Command, opts *commands.FilterOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	f.StringVar(&opts.PeerName, "peer", "", "filter by peer certificate name")
	f.StringVar(&opts.TimeStart, "time-start", "", "events at or after this time (RFC3339)")
	f.StringVar(&opts.TimeEnd, "time-end", "", "events at or before this time (RFC3339)")
	f.StringVar(&opts.Layer, "layer", "", "filter by layer (transport, session, service)")
	f.StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	f.StringVar(&opts.Category, "category", "", "filter by category (message, pairing, state, error)")
	f.StringVar(&opts.Role, "role", "", "filter by local role (server, client)")
}

func viewCmd() *cobra.Command {
	var opts commands.FilterOptions
	cmd := &cobra.Command{
		Use:   "view [flags] <file.lslog>",
		Short: "View log file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return commands.RunView(args[0], filter, os.Stdout)
		},
	}
	addFilterFlags(cmd, &opts)
	return cmd
}

func exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export [flags] <file.lslog>",
		Short: "Export log file to JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunExport(args[0], format, output)
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func filterCmd() *cobra.Command {
	var (
		opts   commands.FilterOptions
		output string
	)
	cmd := &cobra.Command{
		Use:   "filter [flags] <file.lslog>",
		Short: "Filter log file and write to new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := commands.RunFilter(args[0], output, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d events to %s\n", n, output)
			return nil
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.lslog>",
		Short: "Show statistics about the log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], os.Stdout)
		},
	}
}
