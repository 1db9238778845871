package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// PEM block types.
const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePrivateKey  = "PRIVATE KEY"
)

// ErrInvalidPEM indicates data that looked like PEM but held no usable block.
var ErrInvalidPEM = errors.New("invalid PEM data")

// EncodeCertPEM encodes a certificate as a PEM block.
func EncodeCertPEM(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: c.Raw})
}

// EncodeIdentity encodes an identity as a PEM bundle holding the certificate
// followed by its PKCS#8 private key.
func EncodeIdentity(id *Identity) ([]byte, error) {
	keyDER, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(EncodeCertPEM(id.Certificate))
	if err := pem.Encode(&buf, &pem.Block{Type: pemTypePrivateKey, Bytes: keyDER}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeIdentity parses a bundle produced by EncodeIdentity.
func DecodeIdentity(name string, data []byte) (*Identity, error) {
	c, keyDER, err := decodeBundle(data)
	if err != nil {
		return nil, err
	}
	if keyDER == nil {
		return nil, fmt.Errorf("%w: identity %q has no private key", ErrInvalidCertificate, name)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: identity %q key is %T", ErrInvalidCertificate, name, parsed)
	}
	return &Identity{Name: name, Certificate: c, PrivateKey: key}, nil
}

// DecodePublicCertificate parses a certificate given as DER or PEM. Input
// that carries a private key is rejected with ErrInvalidCertificate: only
// public certificates may be imported.
func DecodePublicCertificate(data []byte) (*x509.Certificate, error) {
	c, keyDER, err := decodeBundle(data)
	if err != nil {
		return nil, err
	}
	if keyDER != nil {
		return nil, fmt.Errorf("%w: private key supplied", ErrInvalidCertificate)
	}
	return c, nil
}

// decodeBundle accepts either raw DER or a sequence of PEM blocks with
// exactly one certificate and at most one private key.
func decodeBundle(data []byte) (*x509.Certificate, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty", ErrInvalidCertificate)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		c, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		return c, nil, nil
	}

	var certDER, keyDER []byte
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch {
		case block.Type == pemTypeCertificate:
			if certDER != nil {
				return nil, nil, fmt.Errorf("%w: more than one certificate", ErrInvalidCertificate)
			}
			certDER = block.Bytes
		case strings.HasSuffix(block.Type, pemTypePrivateKey):
			keyDER = block.Bytes
		}
	}
	if certDER == nil {
		if keyDER != nil {
			return nil, nil, fmt.Errorf("%w: private key without certificate", ErrInvalidCertificate)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, ErrInvalidPEM)
	}
	c, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return c, keyDER, nil
}
