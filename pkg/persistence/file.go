package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileProvider stores all values in a single JSON object on disk. Every
// store rewrites the file atomically.
type FileProvider struct {
	mu    sync.Mutex
	path  string
	codec fileCodec
}

// fileCodec transforms the JSON document on its way to and from disk.
type fileCodec interface {
	seal(plain []byte) ([]byte, error)
	open(sealed []byte) ([]byte, error)
}

type plainCodec struct{}

func (plainCodec) seal(b []byte) ([]byte, error) { return b, nil }
func (plainCodec) open(b []byte) ([]byte, error) { return b, nil }

// NewFileProvider creates a provider backed by the JSON file at path. The
// file is created on the first store.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, codec: plainCodec{}}
}

// LoadStringByKey returns the value stored under key.
func (p *FileProvider) LoadStringByKey(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// StoreStringByKey stores value under key and writes the file.
func (p *FileProvider) StoreStringByKey(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	sealed, err := p.codec.seal(data)
	if err != nil {
		return err
	}
	return writeFileAtomic(p.path, sealed, 0o600)
}

// Path returns the backing file path.
func (p *FileProvider) Path() string {
	return p.path
}

func (p *FileProvider) load() (map[string]string, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	plain, err := p.codec.open(data)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	return values, nil
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
