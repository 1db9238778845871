// Package commands implements the localsync-server CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/internal/config"
	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/log"
)

var (
	configPath  string
	address     string
	storePath   string
	logLevel    string
	protocolLog string
)

// env is what every command works with once flags are applied.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	protocol log.Logger
	store    *cert.TrustStore
	close    func() error
}

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "localsync-server",
		Short:         "Accept a paired LocalSync client and print what it sends",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVarP(&address, "address", "a", "", "listen address (default \":8080\")")
	root.PersistentFlags().StringVar(&storePath, "store", "", "trust store file (default in memory)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&protocolLog, "protocol-log", "", "write protocol events to this file")

	root.AddCommand(syncCmd(), certCmd(), importCmd())

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// setup loads the configuration and opens the trust store.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Server.Address = address
	}
	if flags.Changed("store") {
		cfg.Store.Path = storePath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("protocol-log") {
		cfg.Log.ProtocolLog = protocolLog
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	protocol, closeProtocol, err := cfg.OpenProtocolLogger(logger)
	if err != nil {
		return nil, fmt.Errorf("open protocol log: %w", err)
	}
	store, err := cfg.OpenTrustStore()
	if err != nil {
		_ = closeProtocol()
		return nil, fmt.Errorf("open trust store: %w", err)
	}
	return &env{
		cfg:      cfg,
		logger:   logger,
		protocol: protocol,
		store:    store,
		close: func() error {
			return errors.Join(store.Close(), closeProtocol())
		},
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
