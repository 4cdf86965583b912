// Package registry maps authenticated public keys to live connections and
// relays sealed MESSAGE envelopes between them.
//
// A Registry is constructed explicitly and injected wherever it is needed;
// there is no package-level instance. The Router never decrypts or
// re-encodes what it forwards: it writes the exact text it received.
package registry
