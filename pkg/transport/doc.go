// Package transport provides the LocalSync transport layer.
//
// The transport layer handles:
//   - TLS 1.3 sessions with mutual certificate authentication
//   - Phase-dependent peer validation (Policy)
//   - Framed messages with fragmented-read reassembly and read timeouts
//   - Connection state and cancellation
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Pairing / data exchange      │
//	├────────────────────────────────┤
//	│   Frames (flags, len LE, data) │
//	├────────────────────────────────┤
//	│         TLS 1.3                │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Trust
//
// There is no CA. Peer certificates are judged by a Policy value chosen
// per handshake: the pairing policy accepts any certificate (the session's
// peer certificate is later promoted by the pairing exchange), the
// established policy requires exact byte equality with a pinned certificate.
//
// # Reads
//
// Messages are read in chunks of at most 2048 bytes. Each chunk read is
// bounded by a 30 second deadline; expiry yields ErrReadTimeout, a zero-byte
// read yields ErrConnectionClosed and cancellation yields ErrIOFailure.
package transport
