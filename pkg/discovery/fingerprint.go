package discovery

import (
	"crypto/x509"
	"strings"

	"github.com/localsync/localsync-go/pkg/cert"
)

// FingerprintFromCertificate returns the fingerprint advertised for c.
func FingerprintFromCertificate(c *x509.Certificate) string {
	return cert.Fingerprint(c)
}

// ValidateFingerprint checks if s is a valid 64-bit fingerprint (16 hex chars).
func ValidateFingerprint(s string) bool {
	if len(s) != FingerprintLength {
		return false
	}
	return isHexString(s)
}

// Matches reports whether svc advertises the certificate c.
func (svc *ServerService) Matches(c *x509.Certificate) bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(svc.Fingerprint, FingerprintFromCertificate(c))
}

func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
