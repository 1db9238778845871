package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of LocalSync servers.
	ServiceType = "_localsync._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default LocalSync port.
	DefaultPort = 4820
)

// TXT record keys.
const (
	TXTKeyFingerprint = "fp"      // Server certificate fingerprint
	TXTKeyPairing     = "pairing" // "1" while the pairing window is open
	TXTKeyName        = "name"    // Server name (optional)
)

// Limits and defaults.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// FingerprintLength is the length of a certificate fingerprint
	// (16 hex chars = 64 bits).
	FingerprintLength = 16
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrInvalidPairingCode  = errors.New("invalid pairing code")
)

// ServerInfo is what a server advertises.
type ServerInfo struct {
	// InstanceName is the DNS-SD instance name. Empty means
	// DefaultInstanceName(Fingerprint).
	InstanceName string

	// Port the server listens on (0 means DefaultPort).
	Port uint16

	// Fingerprint of the server identity certificate.
	Fingerprint string

	// Pairing reports whether the pairing window is open.
	Pairing bool

	// Name is an optional human-readable server name.
	Name string
}

// ServerService is a server found by browsing.
type ServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Fingerprint  string
	Pairing      bool
	Name         string
}

// Validate checks the advertised fields.
func (i *ServerInfo) Validate() error {
	if !ValidateFingerprint(i.Fingerprint) {
		return ErrInvalidTXTRecord
	}
	if i.InstanceName != "" {
		if err := ValidateInstanceName(i.InstanceName); err != nil {
			return err
		}
	}
	return nil
}
