// Package session drives the keyrelay challenge-response handshake on one
// transport connection and, once authenticated, its steady-state traffic.
//
// A Conn is an explicit state machine. Every inbound frame goes through a
// single dispatch function that switches on the current state, so there is no
// window where a frame can reach a stale handler. The responder proves that
// the initiator holds the private key for the public key it claims:
//
//	responder                                   initiator
//	CHALLENGE{from, nonce N, challenge T}  -->
//	                                       <--  CHALLENGE_RESPONSE{from, to, nonce N, payload=Seal(T)}
//	REGISTER_SUCCESS | REGISTER_FAILURE    -->
//
// Either side of a transport may play either role.
package session
