package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	Overhead  = chacha20poly1305.Overhead
)

var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size for ChaCha20-Poly1305")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// AEAD wraps ChaCha20-Poly1305 with an explicit, caller-carried nonce.
// The nonce is not prepended to the ciphertext: keyrelay ships it in its own
// envelope field so the challenge nonce can be compared on its own.
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD creates a new AEAD cipher from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

// NewNonce returns NonceSize random bytes.
// Random 96-bit nonces keep the collision probability negligible for the
// message volumes a single contact key sees.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// Seal encrypts and authenticates plaintext under nonce.
// Returns: ciphertext || tag (16 bytes)
func (a *AEAD) Seal(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return a.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open decrypts and verifies ciphertext. Every failure, including a wrong
// nonce length, is reported as ErrDecryptionFailed and no plaintext is returned.
func (a *AEAD) Open(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	if len(ciphertext) < a.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the authentication tag overhead.
func (a *AEAD) Overhead() int { return a.aead.Overhead() }

// Seal is a one-shot helper for callers that hold a raw key.
func Seal(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nonce, plaintext, additionalData)
}

// Open is the counterpart of Seal. A bad key size is also reported as
// ErrDecryptionFailed so that callers cannot tell failure causes apart.
func Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return a.Open(nonce, ciphertext, additionalData)
}
