// Package keyrelay relays end-to-end encrypted messages between clients
// identified only by their X25519 public keys.
//
// A Server accepts connections over websocket or QUIC and makes every
// connection prove ownership of its key with a challenge-response handshake
// before it may send. A Client authenticates, then seals each message for its
// recipient with a secret the relay never learns. The relay checks routing
// headers and forwards the sealed frame unchanged.
//
// The building blocks live in sub-packages: identity (keys and shared
// secrets), protocol (envelopes and the codec), session (the handshake state
// machine), registry (the routing table) and transport.
package keyrelay
