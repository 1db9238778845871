package cert

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/localsync/localsync-go/pkg/persistence"
)

// AcceptedRemoteName is the reserved remote entry name under which the
// accepted (pinned) peer certificate is persisted.
const AcceptedRemoteName = "accepted"

// Trust store errors.
var (
	// ErrInvalidCertificate indicates bytes that are not a usable certificate,
	// or a private-key-bearing certificate where only a public one is allowed.
	ErrInvalidCertificate = errors.New("invalid certificate")

	// ErrAlreadyPaired indicates an attempt to replace the accepted remote
	// certificate.
	ErrAlreadyPaired = errors.New("already paired")

	// ErrCertNotFound indicates no certificate is stored under a name.
	ErrCertNotFound = errors.New("certificate not found")
)

// storedCertificate is one element of the persisted certificate lists.
type storedCertificate struct {
	CommonName  string `json:"commonName"`
	Certificate string `json:"base64EncodedCertificate"`
}

// TrustStore holds the local identities of an endpoint and the remote
// certificates it trusts. It is safe for concurrent use.
type TrustStore struct {
	mu       sync.RWMutex
	provider persistence.Provider
	local    map[string]*Identity
	remote   map[string]*x509.Certificate
	accepted *x509.Certificate
}

// NewTrustStore creates a trust store and loads any certificates held by
// provider. A nil provider gives a purely in-memory store.
func NewTrustStore(provider persistence.Provider) (*TrustStore, error) {
	s := &TrustStore{
		provider: provider,
		local:    make(map[string]*Identity),
		remote:   make(map[string]*x509.Certificate),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrGenerateLocal returns the identity for name, generating it on first
// use. Repeated calls return the same identity.
func (s *TrustStore) GetOrGenerateLocal(name string) (*Identity, error) {
	s.mu.RLock()
	id, ok := s.local[name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.local[name]; ok {
		return id, nil
	}
	id, err := GenerateSelfSigned(name)
	if err != nil {
		return nil, err
	}
	s.local[name] = id
	return id, nil
}

// LocalNames returns the names of all local identities, sorted.
func (s *TrustStore) LocalNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.local))
	for name := range s.local {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImportRemote parses data (DER or PEM) and stores it as the remote
// certificate called name. Certificates carrying a private key are rejected.
func (s *TrustStore) ImportRemote(name string, data []byte) (*x509.Certificate, error) {
	if name == AcceptedRemoteName {
		return nil, fmt.Errorf("%w: name %q is reserved", ErrInvalidCertificate, name)
	}
	c, err := DecodePublicCertificate(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.remote[name] = c
	s.mu.Unlock()
	return c, nil
}

// ImportAccepted parses data like ImportRemote, stores it as the remote
// certificate called name and pins it as the accepted peer. The check and
// both writes happen under one lock: when a peer is already accepted
// nothing changes and ErrAlreadyPaired is returned.
func (s *TrustStore) ImportAccepted(name string, data []byte) (*x509.Certificate, error) {
	if name == AcceptedRemoteName {
		return nil, fmt.Errorf("%w: name %q is reserved", ErrInvalidCertificate, name)
	}
	c, err := DecodePublicCertificate(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepted != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPaired, Fingerprint(s.accepted))
	}
	s.remote[name] = c
	s.accepted = c
	return c, nil
}

// Remote returns the imported remote certificate called name.
func (s *TrustStore) Remote(name string) (*x509.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.remote[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCertNotFound, name)
	}
	return c, nil
}

// SetAcceptedRemote pins c as the accepted peer. It can succeed only once.
func (s *TrustStore) SetAcceptedRemote(c *x509.Certificate) error {
	if c == nil || len(c.Raw) == 0 {
		return fmt.Errorf("%w: nil", ErrInvalidCertificate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepted != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyPaired, Fingerprint(s.accepted))
	}
	s.accepted = c
	return nil
}

// Accepted returns the pinned peer certificate, or nil before pairing.
func (s *TrustStore) Accepted() *x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted
}

// IsPaired reports whether a peer certificate has been accepted.
func (s *TrustStore) IsPaired() bool {
	return s.Accepted() != nil
}

// Save writes both certificate lists to the provider. Without a provider
// it does nothing.
func (s *TrustStore) Save() error {
	if s.provider == nil {
		return nil
	}

	s.mu.RLock()
	localList, err := s.encodeLocal()
	remoteList := s.encodeRemote()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := s.store(persistence.KeyLocalCertificates, localList); err != nil {
		return err
	}
	return s.store(persistence.KeyRemoteCertificates, remoteList)
}

// Close persists the store.
func (s *TrustStore) Close() error {
	return s.Save()
}

func (s *TrustStore) encodeLocal() ([]storedCertificate, error) {
	out := make([]storedCertificate, 0, len(s.local))
	for _, name := range sortedKeys(s.local) {
		bundle, err := EncodeIdentity(s.local[name])
		if err != nil {
			return nil, fmt.Errorf("encode identity %q: %w", name, err)
		}
		out = append(out, storedCertificate{
			CommonName:  name,
			Certificate: base64.StdEncoding.EncodeToString(bundle),
		})
	}
	return out, nil
}

func (s *TrustStore) encodeRemote() []storedCertificate {
	out := make([]storedCertificate, 0, len(s.remote)+1)
	for _, name := range sortedKeys(s.remote) {
		out = append(out, storedCertificate{
			CommonName:  name,
			Certificate: base64.StdEncoding.EncodeToString(s.remote[name].Raw),
		})
	}
	if s.accepted != nil {
		out = append(out, storedCertificate{
			CommonName:  AcceptedRemoteName,
			Certificate: base64.StdEncoding.EncodeToString(s.accepted.Raw),
		})
	}
	return out
}

func (s *TrustStore) store(key string, list []storedCertificate) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := s.provider.StoreStringByKey(key, string(data)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *TrustStore) load() error {
	if s.provider == nil {
		return nil
	}

	locals, err := s.loadList(persistence.KeyLocalCertificates)
	if err != nil {
		return err
	}
	for _, entry := range locals {
		bundle, err := base64.StdEncoding.DecodeString(entry.Certificate)
		if err != nil {
			return fmt.Errorf("%w: local %q: %v", ErrInvalidCertificate, entry.CommonName, err)
		}
		id, err := DecodeIdentity(entry.CommonName, bundle)
		if err != nil {
			return err
		}
		s.local[entry.CommonName] = id
	}

	remotes, err := s.loadList(persistence.KeyRemoteCertificates)
	if err != nil {
		return err
	}
	for _, entry := range remotes {
		der, err := base64.StdEncoding.DecodeString(entry.Certificate)
		if err != nil {
			return fmt.Errorf("%w: remote %q: %v", ErrInvalidCertificate, entry.CommonName, err)
		}
		c, err := DecodePublicCertificate(der)
		if err != nil {
			return fmt.Errorf("remote %q: %w", entry.CommonName, err)
		}
		if entry.CommonName == AcceptedRemoteName {
			s.accepted = c
			continue
		}
		s.remote[entry.CommonName] = c
	}
	return nil
}

func (s *TrustStore) loadList(key string) ([]storedCertificate, error) {
	raw, err := s.provider.LoadStringByKey(key)
	if errors.Is(err, persistence.ErrKeyNotFound) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	var list []storedCertificate
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return list, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
