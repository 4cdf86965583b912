// Package crypto provides the symmetric primitives used by keyrelay.
//
// Design goals:
//   - AEAD encryption via ChaCha20-Poly1305 (RFC 8439), no AES-NI required
//   - Caller-visible nonces, so the nonce can travel in a text envelope
//   - Key derivation via HKDF-SHA256
//   - Best-effort wiping of secret material
package crypto
