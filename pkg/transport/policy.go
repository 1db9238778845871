package transport

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/localsync/localsync-go/pkg/cert"
)

// PolicyKind distinguishes the two certificate validation modes.
type PolicyKind uint8

const (
	// PolicyPairing accepts any certificate; the presented certificate is
	// captured from the session for promotion on pairing success.
	PolicyPairing PolicyKind = iota

	// PolicyEstablished accepts only the pinned certificate.
	PolicyEstablished
)

// String returns the policy kind name.
func (k PolicyKind) String() string {
	switch k {
	case PolicyPairing:
		return "PAIRING"
	case PolicyEstablished:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// errCertificateRejected is returned from the TLS verification callback.
var errCertificateRejected = errors.New("peer certificate rejected")

// Policy decides whether a peer certificate is acceptable. It is an
// immutable value; the zero value is the pairing policy.
type Policy struct {
	kind   PolicyKind
	pinned *x509.Certificate
}

// PairingPolicy returns the accept-any policy used for first contact.
func PairingPolicy() Policy {
	return Policy{kind: PolicyPairing}
}

// EstablishedPolicy returns a policy accepting only pinned. A nil pinned
// certificate rejects every peer.
func EstablishedPolicy(pinned *x509.Certificate) Policy {
	return Policy{kind: PolicyEstablished, pinned: pinned}
}

// Kind returns the validation mode.
func (p Policy) Kind() PolicyKind {
	return p.kind
}

// Pinned returns the pinned certificate of an established policy.
func (p Policy) Pinned() *x509.Certificate {
	return p.pinned
}

// Validate reports whether c is acceptable under the policy.
func (p Policy) Validate(c *x509.Certificate) bool {
	if c == nil {
		return false
	}
	switch p.kind {
	case PolicyPairing:
		return true
	case PolicyEstablished:
		return p.pinned != nil && cert.Equal(p.pinned, c)
	default:
		return false
	}
}

// String describes the policy.
func (p Policy) String() string {
	if p.kind == PolicyEstablished {
		return fmt.Sprintf("%s(%s)", p.kind, cert.Fingerprint(p.pinned))
	}
	return p.kind.String()
}

// verifyPeerCertificate adapts the policy to tls.Config.VerifyPeerCertificate.
func (p Policy) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate presented", errCertificateRejected)
	}
	c, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("%w: %v", errCertificateRejected, err)
	}
	if !p.Validate(c) {
		return fmt.Errorf("%w: %s does not satisfy %s", errCertificateRejected, cert.Fingerprint(c), p)
	}
	return nil
}
