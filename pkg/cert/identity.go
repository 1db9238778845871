package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	// IdentityValidity is how long a generated identity is valid.
	IdentityValidity = 365 * 24 * time.Hour

	// ClockSkew backdates NotBefore so peers with slightly late clocks
	// accept a freshly generated identity.
	ClockSkew = 5 * time.Second

	// IdentityCountry is the country attribute of generated subjects.
	IdentityCountry = "DE"
)

// Identity is a self-signed certificate together with its private key.
type Identity struct {
	Name        string
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateSelfSigned creates a new identity for name, valid from
// now-ClockSkew for IdentityValidity.
func GenerateSelfSigned(name string) (*Identity, error) {
	if name == "" {
		return nil, errors.New("identity name is empty")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:    []string{IdentityCountry},
			CommonName: name,
		},
		NotBefore:             now.Add(-ClockSkew),
		NotAfter:              now.Add(IdentityValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{name},
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &Identity{Name: name, Certificate: c, PrivateKey: key}, nil
}

// TLSCertificate returns the identity in the form crypto/tls expects.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// PublicKeyBytes returns the DER encoding of the public certificate. This is
// what an operator transfers to the peer out of band.
func (id *Identity) PublicKeyBytes() []byte {
	return bytes.Clone(id.Certificate.Raw)
}

// Equal reports whether two certificates are byte-for-byte identical.
func Equal(a, b *x509.Certificate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.Raw, b.Raw)
}

// Fingerprint returns the first 8 bytes of the SHA-256 of the certificate,
// hex encoded. It is short enough to compare by eye.
func Fingerprint(c *x509.Certificate) string {
	if c == nil {
		return ""
	}
	sum := sha256.Sum256(c.Raw)
	return hex.EncodeToString(sum[:8])
}
