// Package discovery implements mDNS/DNS-SD discovery for LocalSync servers.
//
// # Service Type (_localsync._tcp)
//
// A server advertises one instance while it is listening. The instance
// name is chosen by the operator (default "LocalSync-<fingerprint>").
// TXT records:
//   - fp: fingerprint of the server identity certificate
//     (first 64 bits of SHA-256 over the DER bytes, 16 hex chars)
//   - pairing: "1" while the pairing window is open, "0" otherwise
//   - name: optional human-readable server name
//
// Clients browse for the service type and pick the instance whose
// fingerprint matches the server certificate they imported. The fingerprint
// only locates a server; the TLS handshake still pins the full certificate.
//
// # Pairing Code
//
// The pairing code bundles what an operator transfers out of band:
//
//	LOCALSYNC:<version>:<fingerprint>:<secret-hex>
package discovery
