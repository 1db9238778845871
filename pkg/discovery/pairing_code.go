package discovery

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Pairing code constants.
const (
	PairingCodePrefix  = "LOCALSYNC:"
	PairingCodeVersion = 1
)

// PairingCode carries the server fingerprint and the pairing secret.
type PairingCode struct {
	Version     uint8
	Fingerprint string
	Secret      []byte
}

// NewPairingCode creates a pairing code for the current version.
func NewPairingCode(fingerprint string, secret []byte) (*PairingCode, error) {
	if !ValidateFingerprint(fingerprint) {
		return nil, fmt.Errorf("%w: fingerprint %q", ErrInvalidPairingCode, fingerprint)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidPairingCode)
	}
	return &PairingCode{
		Version:     PairingCodeVersion,
		Fingerprint: strings.ToLower(fingerprint),
		Secret:      append([]byte(nil), secret...),
	}, nil
}

// ParsePairingCode parses a pairing code string.
//
// Format: LOCALSYNC:<version>:<fingerprint>:<secret-hex>
//
// Example: LOCALSYNC:1:0123456789abcdef:a1b2c3d4e5f60718
func ParsePairingCode(content string) (*PairingCode, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, PairingCodePrefix) {
		return nil, fmt.Errorf("%w: missing prefix", ErrInvalidPairingCode)
	}

	parts := strings.Split(content, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: %d fields", ErrInvalidPairingCode, len(parts))
	}

	version, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || version != PairingCodeVersion {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidPairingCode, parts[1])
	}

	secret, err := hex.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrInvalidPairingCode, err)
	}
	return NewPairingCode(parts[2], secret)
}

// String returns the pairing code in its transfer format.
func (pc *PairingCode) String() string {
	return fmt.Sprintf("%s%d:%s:%s", PairingCodePrefix, pc.Version, pc.Fingerprint, hex.EncodeToString(pc.Secret))
}
