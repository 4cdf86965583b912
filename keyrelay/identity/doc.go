// Package identity holds long-lived X25519 identity keys and the ECDH shared
// secret derivation built on them.
//
// A participant is named on the wire by its public key encoded as unpadded
// base64url (see EncodePublicKey). Shared secrets are derived with
// DeriveSharedSecret and cached per remote identity in a ContactBook.
package identity
