package persistence

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const envelopeVersion = 1

// ErrWrongPassphrase is returned when a sealed file cannot be opened, either
// because the passphrase is wrong or because the file was modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted file")

// ScryptParams are the key derivation cost parameters.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams returns the parameters used for new files.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 1 << 15, R: 8, P: 1}
}

// SecureFileProvider is a FileProvider whose file is sealed with
// ChaCha20-Poly1305 under a key derived from a passphrase with scrypt.
type SecureFileProvider struct {
	*FileProvider
}

// NewSecureFileProvider creates an encrypted provider backed by path.
func NewSecureFileProvider(path, passphrase string, params ScryptParams) *SecureFileProvider {
	return &SecureFileProvider{
		FileProvider: &FileProvider{
			path:  path,
			codec: envelopeCodec{passphrase: passphrase, params: params},
		},
	}
}

// envelope is the on-disk JSON structure of a sealed file.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

type envelopeCodec struct {
	passphrase string
	params     ScryptParams
}

func (c envelopeCodec) seal(plain []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(c.passphrase), salt[:], c.params.N, c.params.R, c.params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// A fresh salt yields a fresh key per file, so the zero nonce is never reused.
	var nonce [chacha20poly1305.NonceSize]byte
	return json.Marshal(envelope{
		V:      envelopeVersion,
		Salt:   salt[:],
		N:      c.params.N,
		R:      c.params.R,
		P:      c.params.P,
		Cipher: aead.Seal(nil, nonce[:], plain, salt[:]),
	})
}

func (c envelopeCodec) open(sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if env.V > envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	key, err := scrypt.Key([]byte(c.passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	plain, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
