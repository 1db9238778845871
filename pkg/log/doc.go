// Package log provides structured protocol logging for LocalSync.
//
// It is separate from operational logging (slog). Protocol capture records
// every frame, connection state change and pairing outcome as an Event so a
// session can be replayed and analysed after the fact.
//
//	// Console output during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/localsync/server.slog")
//
// # Event Types
//
//   - Transport: frame headers and (truncated) frame bytes (FrameEvent)
//   - Session: connection and pairing state changes (StateChangeEvent)
//   - Pairing: pairing attempts and their outcome (PairingEvent)
//   - Errors at any layer (ErrorEventData)
//
// # File Format
//
// Log files are a sequence of CBOR-encoded events using integer keys. The
// localsync-log command reads and filters them.
package log
