// Package connection provides dial retry support for LocalSync clients.
//
// A client that cannot reach its server retries with exponential backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s
//  3. Maximum delay: 10 seconds
//  4. Reset on successful connection
//
// # Jitter
//
// To spread retries of several clients:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Permanent Failures
//
// A failed TLS handshake means the server rejected the client certificate
// or presented an unexpected one. Retrying cannot fix that, so callers mark
// such errors with Permanent and Retry returns them at once.
package connection
