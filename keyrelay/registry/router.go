package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
	"github.com/TheusHen/keyrelay/keyrelay/transport"
)

const DefaultForwardTimeout = 5 * time.Second

// RouteError is a routing failure to report back to the sender. It never
// terminates the sender's connection.
type RouteError struct {
	Reason protocol.Reason
	Ref    string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("registry: route %s: %s", e.Ref, e.Reason)
}

// ReasonOf extracts the routing reason from err.
func ReasonOf(err error) (protocol.Reason, bool) {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// Router relays MESSAGE envelopes between registered endpoints.
type Router struct {
	reg            *Registry
	forwardTimeout time.Duration
}

func NewRouter(reg *Registry, forwardTimeout time.Duration) *Router {
	if forwardTimeout <= 0 {
		forwardTimeout = DefaultForwardTimeout
	}
	return &Router{reg: reg, forwardTimeout: forwardTimeout}
}

// Registry returns the registry the router reads from.
func (r *Router) Registry() *Registry { return r.reg }

// Route validates env, received as raw from the endpoint from, and forwards
// raw unchanged to the recipient. Checks run in this order:
//
//  1. env.From is registered              (SENDER_NOT_REGISTERED)
//  2. env.From is registered to from      (MISMATCHED_IDENTITY)
//  3. env.Payload is present              (MISSING_PAYLOAD)
//  4. env.Type is MESSAGE                 (UNSUPPORTED_TYPE)
//  5. env.To is registered and reachable  (RECIPIENT_UNAVAILABLE)
//
// Failures are returned as *RouteError. The caller acknowledges success with
// DELIVERED. The payload is never inspected.
func (r *Router) Route(ctx context.Context, env protocol.Envelope, raw string, from Endpoint) error {
	fail := func(reason protocol.Reason) error {
		log.WithFields(logrus.Fields{
			"at":     "registry.(*Router).Route",
			"from":   identity.FingerprintID(env.From),
			"to":     identity.FingerprintID(env.To),
			"reason": reason,
		}).Debug("route_failed")
		return &RouteError{Reason: reason, Ref: env.ID}
	}

	sender, ok := r.reg.Lookup(env.From)
	if !ok {
		return fail(protocol.ReasonSenderNotRegistered)
	}
	if sender != from {
		return fail(protocol.ReasonMismatchedIdentity)
	}
	if env.Payload == "" {
		return fail(protocol.ReasonMissingPayload)
	}
	if env.Type != protocol.MessageTypeMessage {
		return fail(protocol.ReasonUnsupportedType)
	}

	recipient, ok := r.reg.Lookup(env.To)
	if !ok {
		return fail(protocol.ReasonRecipientUnavailable)
	}
	if recipient.Closed() {
		r.reg.Unregister(recipient)
		return fail(protocol.ReasonRecipientUnavailable)
	}

	fctx, cancel := context.WithTimeout(ctx, r.forwardTimeout)
	defer cancel()
	if err := recipient.Send(fctx, raw); err != nil {
		if errors.Is(err, transport.ErrClosed) || recipient.Closed() {
			r.reg.Unregister(recipient)
		}
		log.WithFields(logrus.Fields{
			"at": "registry.(*Router).Route",
			"to": identity.FingerprintID(env.To),
		}).WithError(err).Debug("forward_failed")
		return fail(protocol.ReasonRecipientUnavailable)
	}

	log.WithFields(logrus.Fields{
		"at":    "registry.(*Router).Route",
		"from":  identity.FingerprintID(env.From),
		"to":    identity.FingerprintID(env.To),
		"bytes": len(raw),
	}).Debug("forwarded")
	return nil
}
