package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/registry"
)

// serve handles a frame from an authenticated initiator. Routing failures are
// answered with ERROR and never end the connection.
func (c *Conn) serve(ctx context.Context, env protocol.Envelope, raw string, parseErr error) bool {
	if parseErr != nil {
		_ = c.sendEnvelope(ctx, protocol.NewError(protocol.ReasonMalformedEnvelope, ""))
		return false
	}

	if env.Type == protocol.MessageTypeLogout {
		if env.From != c.Peer() {
			_ = c.sendEnvelope(ctx, protocol.NewError(protocol.ReasonMismatchedIdentity, env.ID))
			return false
		}
		log.WithFields(logrus.Fields{
			"at":  "session.(*Conn).serve",
			"key": identity.FingerprintID(env.From),
		}).Info("peer_logged_out")
		return true
	}

	if c.limiter != nil && !c.limiter.Allow() {
		_ = c.sendEnvelope(ctx, protocol.NewError(protocol.ReasonRateLimited, env.ID))
		return false
	}

	err := c.opts.Router.Route(ctx, env, raw, c)
	if err == nil {
		_ = c.sendEnvelope(ctx, protocol.NewDelivered(env.ID))
		return false
	}
	reason, ok := registry.ReasonOf(err)
	if !ok {
		log.WithFields(logrus.Fields{
			"at": "session.(*Conn).serve",
		}).WithError(err).Warn("route_error")
		reason = protocol.ReasonRecipientUnavailable
	}
	_ = c.sendEnvelope(ctx, protocol.NewError(reason, env.ID))
	return false
}
