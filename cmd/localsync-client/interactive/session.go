// Package interactive provides the interactive command-line interface
// for localsync-client.
package interactive

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/discovery"
	"github.com/localsync/localsync-go/pkg/service"
)

// ErrInvalidSecret indicates input that is neither a pairing code nor an
// encoded secret.
var ErrInvalidSecret = errors.New("invalid pairing secret")

// Options connects a Session to the client it drives.
type Options struct {
	Client *service.Client
	Store  *cert.TrustStore

	// NewClient builds a client for another address. It is used when
	// Resolve finds the server somewhere else.
	NewClient func(address string) (*service.Client, error)

	// Resolve looks up the server address before connecting (optional).
	Resolve func(ctx context.Context) (string, error)
}

// Session handles interactive mode for localsync-client.
type Session struct {
	rl        *readline.Instance
	opts      Options
	client    *service.Client
	closeOnce sync.Once
}

// New creates a session. Call Attach before Run.
func New() (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "localsync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Session{rl: rl}, nil
}

// Attach sets the client and trust store the commands operate on.
func (s *Session) Attach(opts Options) {
	s.opts = opts
	s.client = opts.Client
}

// Stdout returns a writer that properly coordinates with the readline input.
func (s *Session) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the prompt.
func (s *Session) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Close disconnects the client and releases the terminal.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.client != nil {
			err = s.client.Close()
		}
		err = errors.Join(err, s.rl.Close())
	})
	return err
}

// Run starts the interactive command loop.
func (s *Session) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()
	s.printStatus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "status", "st":
			s.printStatus()

		case "cert":
			s.cmdCert()

		case "import":
			s.cmdImport(args)

		case "connect", "c":
			s.cmdConnect(ctx)

		case "pair", "p":
			s.cmdPair(ctx, args)

		case "send", "s":
			s.cmdSend(ctx, strings.TrimSpace(input[len(parts[0]):]))

		case "recv", "r":
			s.cmdRecv(ctx)

		case "disconnect", "d":
			s.cmdDisconnect()

		case "quit", "exit", "q":
			fmt.Fprintln(s.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.Stdout(), `
LocalSync Client Commands:
  Trust:
    cert               - Show this client's certificate (give it to the server)
    import <base64>    - Trust the server certificate
    status             - Show connection and pairing state

  Session:
    connect            - Connect to the server
    pair <secret|code> - Send the pairing secret or LOCALSYNC: pairing code
    send <text>        - Send one message and wait for the ACK
    recv               - Wait for one message from the server
    disconnect         - Close the connection

  Other:
    help               - Show this help
    quit               - Exit`)
}

func (s *Session) printStatus() {
	out := s.Stdout()
	fmt.Fprintf(out, "State:       %s\n", s.client.State())
	fmt.Fprintf(out, "Fingerprint: %s\n", s.client.Fingerprint())
	if accepted := s.opts.Store.Accepted(); accepted != nil {
		fmt.Fprintf(out, "Server:      %s\n", cert.Fingerprint(accepted))
	} else {
		fmt.Fprintln(out, "Server:      not trusted yet (use 'import')")
	}
}

func (s *Session) cmdCert() {
	fmt.Fprintln(s.Stdout(), base64.StdEncoding.EncodeToString(s.client.PublicKeyBytes()))
}

func (s *Session) cmdImport(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: import <base64-certificate>")
		return
	}
	if err := s.client.ImportRemoteCertificate(args[0]); err != nil {
		fmt.Fprintf(s.Stdout(), "Import failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "Server certificate trusted: %s\n", cert.Fingerprint(s.opts.Store.Accepted()))
}

func (s *Session) cmdConnect(ctx context.Context) {
	if s.opts.Resolve != nil && s.client.State() == service.ClientIdle {
		addr, err := s.opts.Resolve(ctx)
		if err != nil {
			fmt.Fprintf(s.Stdout(), "Discovery failed: %v\n", err)
			return
		}
		client, err := s.opts.NewClient(addr)
		if err != nil {
			fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
			return
		}
		s.client = client
		fmt.Fprintf(s.Stdout(), "Found server at %s\n", addr)
	}

	if err := s.client.Connect(ctx); err != nil {
		fmt.Fprintf(s.Stdout(), "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.Stdout(), "Connected")
}

func (s *Session) cmdPair(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: pair <secret|pairing-code>")
		return
	}
	secret, fingerprint, err := ParseSecret(args[0])
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
		return
	}
	if fingerprint != "" {
		accepted := s.opts.Store.Accepted()
		if accepted == nil || !strings.EqualFold(fingerprint, cert.Fingerprint(accepted)) {
			fmt.Fprintln(s.Stdout(), "Pairing code does not belong to the trusted server")
			return
		}
	}

	if err := s.client.Pair(ctx, secret); err != nil {
		fmt.Fprintf(s.Stdout(), "Pairing failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.Stdout(), "Paired")
}

func (s *Session) cmdSend(ctx context.Context, text string) {
	if text == "" {
		fmt.Fprintln(s.Stdout(), "Usage: send <text>")
		return
	}
	if err := s.client.SendData(ctx, []byte(text)); err != nil {
		fmt.Fprintf(s.Stdout(), "Send failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.Stdout(), "Acknowledged")
}

func (s *Session) cmdRecv(ctx context.Context) {
	data, err := s.client.ReceiveData(ctx)
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Receive failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "< %s\n", data)
}

func (s *Session) cmdDisconnect() {
	if err := s.client.Disconnect(); err != nil {
		fmt.Fprintf(s.Stdout(), "Disconnect: %v\n", err)
		return
	}
	fmt.Fprintln(s.Stdout(), "Disconnected")
}

// ParseSecret decodes what the server operator printed: a pairing code
// (which also names the server fingerprint), a base64 secret or a hex
// secret.
func ParseSecret(input string) (secret []byte, fingerprint string, err error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, discovery.PairingCodePrefix) {
		code, err := discovery.ParsePairingCode(input)
		if err != nil {
			return nil, "", err
		}
		return code.Secret, code.Fingerprint, nil
	}
	if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) > 0 {
		return b, "", nil
	}
	if b, err := hex.DecodeString(input); err == nil && len(b) > 0 {
		return b, "", nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrInvalidSecret, input)
}
