package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.ScalarSize

var (
	ErrInvalidKey = errors.New("identity: invalid key")
)

// KeyPair holds an X25519 keypair used for participant identity.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

// GenerateKeyPair returns a fresh keypair read from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivate(priv[:])
}

// KeyPairFromPrivate rebuilds a keypair from a 32-byte private scalar.
// The scalar is clamped per RFC 7748.
func KeyPairFromPrivate(privateKey []byte) (KeyPair, error) {
	if len(privateKey) != KeySize {
		return KeyPair{}, ErrInvalidKey
	}
	var kp KeyPair
	copy(kp.PrivateKey[:], privateKey)
	clamp(&kp.PrivateKey)
	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, ErrInvalidKey
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// NewKeyPair imports an existing keypair, checking that the public half
// matches the private half.
func NewKeyPair(publicKey, privateKey []byte) (KeyPair, error) {
	if len(publicKey) != KeySize {
		return KeyPair{}, ErrInvalidKey
	}
	kp, err := KeyPairFromPrivate(privateKey)
	if err != nil {
		return KeyPair{}, err
	}
	if subtle.ConstantTimeCompare(kp.PublicKey[:], publicKey) != 1 {
		return KeyPair{}, ErrInvalidKey
	}
	return kp, nil
}

// DeterministicKeyPair derives a keypair from seed.
//
// NOT FOR PRODUCTION USE: anyone who knows the seed knows the private key.
// It exists so tests can name stable identities.
func DeterministicKeyPair(seed string) KeyPair {
	sum := sha256.Sum256([]byte("keyrelay-test-seed:" + seed))
	kp, err := KeyPairFromPrivate(sum[:])
	if err != nil {
		panic(err)
	}
	return kp
}

// ID returns the wire name of the keypair's public key.
func (kp KeyPair) ID() string {
	return EncodePublicKey(kp.PublicKey[:])
}

func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
