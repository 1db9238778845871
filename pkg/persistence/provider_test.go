package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fastParams keeps scrypt cheap in tests.
var fastParams = ScryptParams{N: 1 << 10, R: 8, P: 1}

func TestProviders(t *testing.T) {
	dir := t.TempDir()
	providers := map[string]Provider{
		"memory": NewMemoryProvider(),
		"file":   NewFileProvider(filepath.Join(dir, "plain", "store.json")),
		"secure": NewSecureFileProvider(filepath.Join(dir, "secure", "store.json"), "hunter2", fastParams),
	}

	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			if _, err := p.LoadStringByKey(KeyLocalCertificates); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("empty load: got %v, want ErrKeyNotFound", err)
			}

			if err := p.StoreStringByKey(KeyLocalCertificates, "[1]"); err != nil {
				t.Fatalf("store: %v", err)
			}
			if err := p.StoreStringByKey(KeyRemoteCertificates, "[2]"); err != nil {
				t.Fatalf("store: %v", err)
			}
			if err := p.StoreStringByKey(KeyLocalCertificates, "[3]"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			got, err := p.LoadStringByKey(KeyLocalCertificates)
			if err != nil || got != "[3]" {
				t.Errorf("local: got %q, %v", got, err)
			}
			got, err = p.LoadStringByKey(KeyRemoteCertificates)
			if err != nil || got != "[2]" {
				t.Errorf("remote: got %q, %v", got, err)
			}
		})
	}
}

func TestFileProviderSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := NewFileProvider(path).StoreStringByKey("k", "v"); err != nil {
		t.Fatal(err)
	}

	got, err := NewFileProvider(path).LoadStringByKey("k")
	if err != nil || got != "v" {
		t.Errorf("got %q, %v", got, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode: got %v, want 0600", info.Mode().Perm())
	}
}

func TestFileProviderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileProvider(path).LoadStringByKey("k"); err == nil {
		t.Error("expected decode error")
	}
}

func TestSecureFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	p := NewSecureFileProvider(path, "correct horse", fastParams)
	if err := p.StoreStringByKey(KeyRemoteCertificates, "secret-value"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret-value") {
		t.Error("plaintext visible on disk")
	}

	t.Run("reopen", func(t *testing.T) {
		got, err := NewSecureFileProvider(path, "correct horse", fastParams).LoadStringByKey(KeyRemoteCertificates)
		if err != nil || got != "secret-value" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := NewSecureFileProvider(path, "battery staple", fastParams).LoadStringByKey(KeyRemoteCertificates)
		if !errors.Is(err, ErrWrongPassphrase) {
			t.Errorf("got %v, want ErrWrongPassphrase", err)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := filepath.Join(t.TempDir(), "tampered.json")
		if err := os.WriteFile(tampered, raw[:len(raw)-8], 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := NewSecureFileProvider(tampered, "correct horse", fastParams).LoadStringByKey(KeyRemoteCertificates)
		if !errors.Is(err, ErrWrongPassphrase) {
			t.Errorf("got %v, want ErrWrongPassphrase", err)
		}
	})
}
