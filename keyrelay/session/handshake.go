package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/crypto"
	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/registry"
)

// open performs the role's first step once the transport is up.
func (c *Conn) open(ctx context.Context) error {
	if c.role == RoleInitiator {
		c.advance(StateAwaitingChallenge)
		return nil
	}

	c.advance(StateIssuingChallenge)
	nonce, err := crypto.NewNonce()
	if err != nil {
		return err
	}
	challenge, err := newChallengeText()
	if err != nil {
		return err
	}
	c.nonce, c.challenge = nonce, challenge

	if err := c.sendEnvelope(ctx, protocol.NewChallenge(c.local.ID(), nonce, challenge)); err != nil {
		return err
	}
	c.advance(StateAwaitingVerification)
	log.WithFields(logrus.Fields{
		"at":     "session.(*Conn).open",
		"remote": c.tr.RemoteAddr(),
	}).Debug("challenge_issued")
	return nil
}

// newChallengeText returns a freshness token: the current time plus random
// bytes, so two challenges issued in the same instant still differ.
func newChallengeText() (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return time.Now().UTC().Format(time.RFC3339Nano) + "." + protocol.EncodeBinary(salt), nil
}

// dispatch handles one inbound frame according to the current state and
// reports whether the connection should stop.
func (c *Conn) dispatch(ctx context.Context, text string) bool {
	env, parseErr := protocol.Unmarshal(text)

	switch state := c.State(); state {
	case StateAwaitingVerification:
		if parseErr != nil {
			return c.reject(ctx, protocol.ReasonMalformedEnvelope)
		}
		if env.Type != protocol.MessageTypeChallengeResponse {
			return c.reject(ctx, protocol.ReasonUnexpectedMessage)
		}
		return c.verify(ctx, env)

	case StateAwaitingChallenge:
		if parseErr != nil {
			return c.reject(ctx, protocol.ReasonMalformedEnvelope)
		}
		if env.Type != protocol.MessageTypeChallenge {
			return c.reject(ctx, protocol.ReasonUnexpectedMessage)
		}
		return c.answer(ctx, env)

	case StateResponseSent:
		if parseErr != nil {
			return c.reject(ctx, protocol.ReasonMalformedEnvelope)
		}
		switch env.Type {
		case protocol.MessageTypeRegisterSuccess:
			c.advance(StateAuthenticated)
			return false
		case protocol.MessageTypeRegisterFailure:
			c.fail(StateRejected, env.Reason)
			// A duplicate-identity loser keeps its transport; the owner decides.
			return env.Reason != protocol.ReasonDuplicateIdentity
		default:
			return c.reject(ctx, protocol.ReasonUnexpectedMessage)
		}

	case StateAuthenticated:
		if c.role == RoleResponder {
			return c.serve(ctx, env, text, parseErr)
		}
		if parseErr != nil {
			log.WithFields(logrus.Fields{
				"at": "session.(*Conn).dispatch",
			}).WithError(parseErr).Debug("dropped_malformed_envelope")
			return false
		}
		if env.Type == protocol.MessageTypeLogout {
			return true
		}
		c.opts.Listener.OnMessage(env)
		return false

	case StateRejected:
		// Only a duplicate-identity loser stays open. It is not registered.
		if c.role == RoleResponder {
			ref := ""
			if parseErr == nil {
				ref = env.ID
			}
			_ = c.sendEnvelope(ctx, protocol.NewError(protocol.ReasonSenderNotRegistered, ref))
		}
		return false

	default:
		log.WithFields(logrus.Fields{
			"at":    "session.(*Conn).dispatch",
			"state": state.String(),
		}).Debug("frame_in_unexpected_state")
		return c.reject(ctx, protocol.ReasonUnexpectedMessage)
	}
}

// reject ends the handshake as REJECTED. A responder tells the initiator why
// before the transport closes; the registry is never touched.
func (c *Conn) reject(ctx context.Context, reason protocol.Reason) bool {
	if !c.fail(StateRejected, reason) {
		return true
	}
	if c.role == RoleResponder {
		_ = c.sendEnvelope(ctx, protocol.NewRegisterFailure(reason))
	}
	log.WithFields(logrus.Fields{
		"at":     "session.(*Conn).reject",
		"role":   c.role.String(),
		"reason": reason,
		"remote": c.tr.RemoteAddr(),
	}).Info("handshake_rejected")
	return true
}

// verify checks a CHALLENGE_RESPONSE. Every cryptographic failure is reported
// with the same reason so that the responder is not a decryption oracle.
func (c *Conn) verify(ctx context.Context, env protocol.Envelope) bool {
	fail := func() bool { return c.reject(ctx, protocol.ReasonInvalidCiphertext) }

	remote, err := identity.ParsePublicKey(env.From)
	if err != nil {
		return fail()
	}
	if env.To != c.local.ID() {
		return fail()
	}
	if subtle.ConstantTimeCompare([]byte(env.Nonce), []byte(protocol.EncodeBinary(c.nonce))) != 1 {
		return fail()
	}
	contact, err := identity.NewContact(c.local, remote[:])
	if err != nil {
		return fail()
	}
	plain, err := protocol.Decode(env, contact.SharedSecret)
	crypto.Wipe(contact.SharedSecret)
	if err != nil {
		return fail()
	}
	if subtle.ConstantTimeCompare(plain, []byte(c.challenge)) != 1 {
		return fail()
	}

	c.setPeer(env.From)
	return c.register(ctx, env.From)
}

// register binds peer to this connection and confirms it. The write lock is
// held across both steps so a routed MESSAGE cannot overtake REGISTER_SUCCESS.
func (c *Conn) register(ctx context.Context, peer string) bool {
	c.writeMu.Lock()
	err := c.opts.Router.Registry().Register(peer, c)
	if err == nil {
		var text string
		text, err = protocol.Marshal(protocol.NewRegisterSuccess(peer))
		if err == nil {
			err = c.sendLocked(ctx, text)
		}
		if err != nil {
			c.opts.Router.Registry().Unregister(c)
		}
	}
	c.writeMu.Unlock()

	switch {
	case err == nil:
		c.advance(StateAuthenticated)
		log.WithFields(logrus.Fields{
			"at":     "session.(*Conn).register",
			"key":    identity.FingerprintID(peer),
			"remote": c.tr.RemoteAddr(),
		}).Info("peer_authenticated")
		return false
	case errors.Is(err, registry.ErrDuplicateIdentity):
		c.fail(StateRejected, protocol.ReasonDuplicateIdentity)
		_ = c.sendEnvelope(ctx, protocol.NewRegisterFailure(protocol.ReasonDuplicateIdentity))
		return false
	default:
		log.WithFields(logrus.Fields{
			"at": "session.(*Conn).register",
		}).WithError(err).Warn("register_failed")
		c.advance(StateConnectionLost)
		return true
	}
}

// answer replies to a CHALLENGE as the initiator.
func (c *Conn) answer(ctx context.Context, env protocol.Envelope) bool {
	if c.opts.ExpectedResponder != "" && env.From != c.opts.ExpectedResponder {
		return c.reject(ctx, protocol.ReasonInvalidCiphertext)
	}
	remote, err := identity.ParsePublicKey(env.From)
	if err != nil {
		return c.reject(ctx, protocol.ReasonInvalidCiphertext)
	}
	nonce, err := protocol.DecodeBinary(env.Nonce)
	if err != nil || len(nonce) != crypto.NonceSize || env.Challenge == "" {
		return c.reject(ctx, protocol.ReasonMalformedEnvelope)
	}
	contact, err := identity.NewContact(c.local, remote[:])
	if err != nil {
		return c.reject(ctx, protocol.ReasonInvalidCiphertext)
	}
	resp, err := protocol.Encode(c.local, contact, []byte(env.Challenge), protocol.MessageTypeChallengeResponse, nonce)
	crypto.Wipe(contact.SharedSecret)
	if err != nil {
		return c.reject(ctx, protocol.ReasonInvalidCiphertext)
	}

	c.setPeer(env.From)
	if err := c.sendEnvelope(ctx, resp); err != nil {
		c.advance(StateConnectionLost)
		return true
	}
	c.advance(StateResponseSent)
	return false
}

// onTimeout handles the registration timer. A handshake still in progress
// ends as TIMED_OUT; the transport is closed in every case.
func (c *Conn) onTimeout(ctx context.Context) {
	if c.fail(StateTimedOut, protocol.ReasonTimeout) && c.role == RoleResponder {
		_ = c.sendEnvelope(ctx, protocol.NewRegisterFailure(protocol.ReasonTimeout))
	}
	log.WithFields(logrus.Fields{
		"at":     "session.(*Conn).onTimeout",
		"role":   c.role.String(),
		"state":  c.State().String(),
		"remote": c.tr.RemoteAddr(),
	}).Info("handshake_timed_out")
}
