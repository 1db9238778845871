package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// DefaultHandshakeTimeout bounds one inbound handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address to listen on (default ":4820").
	Address string

	// HandshakeTimeout bounds each handshake (default 10s).
	HandshakeTimeout time.Duration

	// Conn tunes accepted connections.
	Conn ConnConfig

	// Logger receives operational messages (optional).
	Logger *slog.Logger
}

// Listener accepts authenticated connections one at a time.
type Listener struct {
	ln     net.Listener
	config ListenerConfig
	logger *slog.Logger
}

// Listen opens a TCP listener.
func Listen(cfg ListenerConfig) (*Listener, error) {
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	return &Listener{ln: ln, config: cfg, logger: logger}, nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening. Connections already returned stay open.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept waits for the next peer that completes a handshake under p.
// Handshake failures are logged and the listener keeps accepting.
func (l *Listener) Accept(ctx context.Context, local tls.Certificate, p Policy) (*Conn, error) {
	for {
		raw, err := l.acceptRaw(ctx)
		if err != nil {
			return nil, err
		}

		hsCtx, cancel := context.WithTimeout(ctx, l.config.HandshakeTimeout)
		session, err := ServerHandshake(hsCtx, raw, local, p)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrIOFailure, ctx.Err())
			}
			l.logger.Debug("handshake rejected", "remote", raw.RemoteAddr(), "policy", p, "error", err)
			continue
		}
		return NewConn(context.WithoutCancel(ctx), session, p, l.config.Conn), nil
	}
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// acceptRaw accepts one socket, honouring ctx cancellation.
func (l *Listener) acceptRaw(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if dl, ok := l.ln.(deadlineListener); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = dl.SetDeadline(pastDeadline)
		})
		defer func() {
			if !stop() {
				_ = dl.SetDeadline(time.Time{})
			}
		}()
	}

	raw, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrIOFailure, ctx.Err())
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("%w: listener closed", ErrConnectionClosed)
		}
		return nil, fmt.Errorf("%w: accept: %w", ErrIOFailure, err)
	}
	return raw, nil
}
