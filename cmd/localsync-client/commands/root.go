// Package commands implements the localsync-client CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localsync/localsync-go/internal/config"
	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/service"
)

var (
	configPath  string
	address     string
	storePath   string
	logLevel    string
	protocolLog string
	discover    bool
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
		Use:           "localsync-client",
		Short:         "Pair with a LocalSync server and send it data",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runInteractive,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVarP(&address, "address", "a", "", "server address (default \"localhost:8080\")")
	root.PersistentFlags().StringVar(&storePath, "store", "", "trust store file (default in memory)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&protocolLog, "protocol-log", "", "write protocol events to this file")
	root.PersistentFlags().BoolVar(&discover, "discover", false, "find the paired server via mDNS instead of --address")

	root.AddCommand(sendCmd(), discoverCmd(), certCmd())

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// setup loads the configuration and opens the trust store. Log output
// goes to w.
func setup(cmd *cobra.Command, w io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Client.Address = address
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

	logger, err := cfg.NewLogger(w)
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

// newClient builds a client for address, or for the configured address
// when address is empty.
func (e *env) newClient(address string) (*service.Client, error) {
	cc := e.cfg.ClientConfig(e.store, e.logger, e.protocol)
	if address != "" {
		cc.Address = address
	}
	return service.NewClient(cc)
}

// resolver returns the mDNS address lookup, or nil without --discover.
func (e *env) resolver() func(context.Context) (string, error) {
	if !discover {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		bc := e.cfg.BrowserConfig()
		ctx, cancel := context.WithTimeout(ctx, bc.BrowseTimeout)
		defer cancel()
		browser := discovery.NewMDNSBrowser(bc)
		defer browser.Stop()
		return service.ResolveAddress(ctx, browser, e.store)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
