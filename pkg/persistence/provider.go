package persistence

import (
	"errors"
	"sync"
)

// Keys used by the trust store.
const (
	KeyLocalCertificates  = "local-certificates"
	KeyRemoteCertificates = "remote-certificates"
)

// ErrKeyNotFound is returned by LoadStringByKey when nothing is stored under
// the key.
var ErrKeyNotFound = errors.New("key not found")

// Provider loads and stores strings by key.
type Provider interface {
	LoadStringByKey(key string) (string, error)
	StoreStringByKey(key, value string) error
}

// MemoryProvider keeps values in memory. It is safe for concurrent use.
type MemoryProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{values: make(map[string]string)}
}

// LoadStringByKey returns the value stored under key.
func (p *MemoryProvider) LoadStringByKey(key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// StoreStringByKey stores value under key, replacing any previous value.
func (p *MemoryProvider) StoreStringByKey(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values[key] = value
	return nil
}

var (
	_ Provider = (*MemoryProvider)(nil)
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*SecureFileProvider)(nil)
)
