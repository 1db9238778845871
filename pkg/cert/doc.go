// Package cert manages the certificates LocalSync endpoints authenticate
// with.
//
// Each endpoint owns self-signed ECDSA P-256 identities keyed by role name
// ("server", "client"). There is no CA: a peer is trusted either because its
// certificate was imported out of band or because it was captured during a
// successful pairing. Once accepted, the remote certificate is pinned and
// compared byte for byte on every later connection.
package cert
