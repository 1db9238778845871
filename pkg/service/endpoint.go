package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/localsync/localsync-go/pkg/cert"
	"github.com/localsync/localsync-go/pkg/log"
	"github.com/localsync/localsync-go/pkg/pairing"
	"github.com/localsync/localsync-go/pkg/transport"
	"github.com/localsync/localsync-go/pkg/wire"
)

// endpoint holds what the server and client roles share: the trust store,
// the local identity and logging.
type endpoint struct {
	store    *cert.TrustStore
	identity *cert.Identity
	peerName string
	role     log.Role

	logger         *slog.Logger
	protocolLogger log.Logger
}

func newEndpoint(store *cert.TrustStore, name, peerName string, role log.Role, logger *slog.Logger, protocolLogger log.Logger) (*endpoint, error) {
	if store == nil {
		var err error
		if store, err = cert.NewTrustStore(nil); err != nil {
			return nil, err
		}
	}
	identity, err := store.GetOrGenerateLocal(name)
	if err != nil {
		return nil, fmt.Errorf("local identity %q: %w", name, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &endpoint{
		store:          store,
		identity:       identity,
		peerName:       peerName,
		role:           role,
		logger:         logger,
		protocolLogger: protocolLogger,
	}, nil
}

// PublicKeyBytes returns the DER encoded local certificate. This is what
// the peer imports with ImportRemoteCertificate (base64 encoded).
func (e *endpoint) PublicKeyBytes() []byte {
	return e.identity.PublicKeyBytes()
}

// Fingerprint returns the fingerprint of the local certificate.
func (e *endpoint) Fingerprint() string {
	return cert.Fingerprint(e.identity.Certificate)
}

// TrustStore returns the trust store in use.
func (e *endpoint) TrustStore() *cert.TrustStore {
	return e.store
}

// ImportRemoteCertificate accepts the peer certificate shared out of band.
// encoded is the base64 form of PublicKeyBytes (PEM is accepted too).
// Like pairing, this can succeed only once.
func (e *endpoint) ImportRemoteCertificate(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("%w: base64: %v", cert.ErrInvalidCertificate, err)
	}
	c, err := e.store.ImportAccepted(e.peerName, data)
	if err != nil {
		return err
	}
	e.logger.Debug("remote certificate imported", "peer", e.peerName, "fingerprint", cert.Fingerprint(c))
	e.save()
	return nil
}

// save persists the trust store. A failure is logged; the in-memory state
// stays authoritative.
func (e *endpoint) save() {
	if err := e.store.Save(); err != nil {
		e.logger.Warn("failed to persist trust store", "error", err)
	}
}

func (e *endpoint) connConfig(readTimeout time.Duration, maxPayload int) transport.ConnConfig {
	return transport.ConnConfig{
		ReadTimeout:    readTimeout,
		MaxPayloadSize: maxPayload,
		Logger:         e.protocolLogger,
		Role:           e.role,
	}
}

// logEvent sends an event to the protocol logger, if any.
func (e *endpoint) logEvent(connID string, event log.Event) {
	if e.protocolLogger == nil {
		return
	}
	event.Timestamp = time.Now()
	event.ConnectionID = connID
	event.Layer = log.LayerService
	event.LocalRole = e.role
	e.protocolLogger.Log(event)
}

func (e *endpoint) logStateChange(entity log.StateEntity, oldState, newState fmt.Stringer, reason string) {
	e.logger.Debug("state change", "entity", entity, "old", oldState, "new", newState, "reason", reason)
	e.logEvent("", log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

func (e *endpoint) logPairing(conn transport.Session, success bool, reason string) {
	fp := cert.Fingerprint(conn.PeerCertificate())
	if success {
		e.logger.Info("pairing succeeded", "conn_id", conn.ID(), "peer", fp)
	} else {
		e.logger.Warn("pairing failed", "conn_id", conn.ID(), "peer", fp, "reason", reason)
	}
	e.logEvent(conn.ID(), log.Event{
		Category: log.CategoryPairing,
		Pairing: &log.PairingEvent{
			Success:     success,
			Fingerprint: fp,
			Reason:      reason,
		},
	})
}

func (e *endpoint) logError(connID, op string, err error) {
	e.logger.Debug("connection error", "conn_id", connID, "op", op, "error", err)
	e.logEvent(connID, log.Event{
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: op,
		},
	})
}

// acceptPairing runs the server side of the pairing exchange on a
// connection accepted under the pairing policy. On success the peer
// certificate is the accepted remote certificate and conn is promoted.
// On failure the peer has been sent an Error frame where possible; the
// caller closes conn.
//
// The secret in window is consumed whatever the outcome.
func (e *endpoint) acceptPairing(ctx context.Context, conn transport.Session, window *pairing.Window) error {
	req, err := conn.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, wire.ErrMalformedFrame) {
			_ = conn.WriteMessage(ctx, wire.NewError(0))
		}
		e.logPairing(conn, false, err.Error())
		return fmt.Errorf("%w: read request: %w", ErrPairingFailed, err)
	}

	reject := func(cause error) error {
		_ = conn.WriteMessage(ctx, wire.NewError(req.Length))
		e.logPairing(conn, false, cause.Error())
		return fmt.Errorf("%w: %w", ErrPairingFailed, cause)
	}

	if err := window.Begin(); err != nil {
		return reject(err)
	}
	success := false
	defer func() {
		_ = window.End(success)
	}()

	if req.Flags != wire.TypePairingRequest {
		return reject(fmt.Errorf("%w: %s", ErrUnexpectedFrame, req.Flags))
	}
	if !window.Verify(req.Payload) {
		return reject(ErrAuthenticationFailed)
	}

	peer := conn.PeerCertificate()
	if err := e.store.SetAcceptedRemote(peer); err != nil {
		return reject(err)
	}
	success = true
	e.save()

	if err := conn.WriteMessage(ctx, wire.NewPairingResponse(req.Length)); err != nil {
		e.logPairing(conn, false, err.Error())
		return fmt.Errorf("%w: write response: %w", ErrPairingFailed, err)
	}
	conn.Promote()
	e.logPairing(conn, true, "")
	return nil
}
