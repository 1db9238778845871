// Package pairing manages the pairing window of a LocalSync server.
//
// Opening the window generates a fresh random pairing secret that the
// operator transfers to the client out of band. The client presents it in a
// pairing request; the server checks it once and the window closes again,
// whatever the outcome.
//
// # Window States
//
//   - CLOSED: no pairing possible (normal operation)
//   - OPEN: a secret is armed and waiting for a pairing request
//   - VERIFYING: a pairing request is being checked
//
// # Properties
//
//   - A secret is consumed by exactly one verification
//   - Only one verification may be in flight
//   - An open window closes by itself after the timeout
package pairing
