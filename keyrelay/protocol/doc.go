// Package protocol defines the keyrelay wire envelope and the codec that
// seals payloads into it.
//
// Envelopes travel as UTF-8 JSON text frames. Binary fields (public keys,
// nonces, ciphertexts) are unpadded base64url. Payloads are sealed with
// ChaCha20-Poly1305 under the sender/recipient shared secret; the envelope
// type, sender and recipient are bound as associated data so a relay cannot
// re-address a sealed payload without breaking its tag.
//
// For stream transports that have no native message boundaries, WriteFrame and
// ReadFrame add a small length-prefixed framing.
package protocol
