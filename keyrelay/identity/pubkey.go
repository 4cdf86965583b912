package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// EncodePublicKey returns the unpadded base64url wire form of a public key.
func EncodePublicKey(publicKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(publicKey)
}

// ParsePublicKey decodes a wire public key and checks its length.
func ParsePublicKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return out, ErrInvalidKey
	}
	copy(out[:], b)
	return out, nil
}

// Fingerprint returns a short hex fingerprint of a public key for display
// and logging. It hashes with SHA-256 and truncates to 8 bytes.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:8])
}

// FingerprintID is Fingerprint for a wire-encoded key. Undecodable input is
// fingerprinted as-is so log lines never carry raw attacker-chosen strings.
func FingerprintID(id string) string {
	if pk, err := ParsePublicKey(id); err == nil {
		return Fingerprint(pk[:])
	}
	return Fingerprint([]byte(id))
}
