package identity

import (
	"crypto/subtle"

	"github.com/TheusHen/keyrelay/keyrelay/crypto"
	"golang.org/x/crypto/curve25519"
)

// sharedSecretInfo binds derived secrets to this protocol. Both peers use the
// same label and no per-role input, which keeps derivation reciprocal.
var sharedSecretInfo = []byte("keyrelay-contact-secret-v1")

// DeriveSharedSecret computes X25519(localPrivateKey, remotePublicKey) and
// expands it with HKDF-SHA256 into a crypto.KeySize symmetric key.
//
// DeriveSharedSecret(a.priv, b.pub) == DeriveSharedSecret(b.priv, a.pub) for
// every pair of valid keys. Inputs of the wrong length and low-order public
// keys fail with ErrInvalidKey.
func DeriveSharedSecret(localPrivateKey, remotePublicKey []byte) ([]byte, error) {
	if len(localPrivateKey) != KeySize || len(remotePublicKey) != KeySize {
		return nil, ErrInvalidKey
	}
	var priv [KeySize]byte
	copy(priv[:], localPrivateKey)
	clamp(&priv)
	defer crypto.Wipe(priv[:])

	raw, err := curve25519.X25519(priv[:], remotePublicKey)
	if err != nil {
		// x/crypto rejects all-zero outputs (low-order points).
		return nil, ErrInvalidKey
	}
	defer crypto.Wipe(raw)
	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(raw, zero[:]) == 1 {
		return nil, ErrInvalidKey
	}
	return crypto.DeriveKey(raw, nil, sharedSecretInfo, crypto.KeySize)
}

// SharedSecret derives the secret between kp and remotePublicKey.
func (kp KeyPair) SharedSecret(remotePublicKey []byte) ([]byte, error) {
	return DeriveSharedSecret(kp.PrivateKey[:], remotePublicKey)
}
