package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
)

var log = logrus.WithField("pkg", "registry")

var (
	ErrDuplicateIdentity = errors.New("registry: public key bound to another live connection")
	ErrAlreadyBound      = errors.New("registry: connection already bound to another public key")
	ErrClosed            = errors.New("registry: closed")
)

// Endpoint is the registry's view of a live connection.
type Endpoint interface {
	Send(ctx context.Context, text string) error
	Close() error
	// Closed reports whether the underlying transport is known to be gone.
	Closed() bool
}

// Registry holds at most one live Endpoint per public key. A single mutex
// guards both directions of the mapping, so every Register and Unregister is
// one atomic step.
type Registry struct {
	mu         sync.RWMutex
	byKey      map[string]Endpoint
	byEndpoint map[Endpoint]string
	closed     bool
}

func New() *Registry {
	return &Registry{
		byKey:      map[string]Endpoint{},
		byEndpoint: map[Endpoint]string{},
	}
}

// Register binds publicKey to ep. Registering the same pair twice is a no-op.
// If publicKey is bound to a different endpoint that is still live the call
// fails with ErrDuplicateIdentity and nothing changes; a stale binding to a
// closed endpoint is replaced.
func (r *Registry) Register(publicKey string, ep Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if bound, ok := r.byEndpoint[ep]; ok && bound != publicKey {
		return ErrAlreadyBound
	}
	if existing, ok := r.byKey[publicKey]; ok {
		if existing == ep {
			return nil
		}
		if !existing.Closed() {
			log.WithFields(logrus.Fields{
				"at":  "registry.(*Registry).Register",
				"key": identity.FingerprintID(publicKey),
			}).Warn("duplicate_identity")
			return ErrDuplicateIdentity
		}
		delete(r.byEndpoint, existing)
		log.WithFields(logrus.Fields{
			"at":  "registry.(*Registry).Register",
			"key": identity.FingerprintID(publicKey),
		}).Debug("replaced_stale_binding")
	}
	r.byKey[publicKey] = ep
	r.byEndpoint[ep] = publicKey
	return nil
}

// Unregister removes whatever binding ep holds. It is idempotent and returns
// the key that was removed, if any.
func (r *Registry) Unregister(ep Endpoint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byEndpoint[ep]
	if !ok {
		return "", false
	}
	delete(r.byEndpoint, ep)
	if r.byKey[key] == ep {
		delete(r.byKey, key)
	}
	return key, true
}

// Lookup returns the endpoint bound to publicKey.
func (r *Registry) Lookup(publicKey string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.byKey[publicKey]
	return ep, ok
}

// KeyOf returns the public key ep is bound to.
func (r *Registry) KeyOf(ep Endpoint) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byEndpoint[ep]
	return key, ok
}

// Has reports whether publicKey is bound to a live endpoint.
func (r *Registry) Has(publicKey string) bool {
	ep, ok := r.Lookup(publicKey)
	return ok && !ep.Closed()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Keys returns the registered public keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Close empties the registry, closes every endpoint it held and rejects
// further registrations.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	eps := make([]Endpoint, 0, len(r.byEndpoint))
	for ep := range r.byEndpoint {
		eps = append(eps, ep)
	}
	r.byKey = map[string]Endpoint{}
	r.byEndpoint = map[Endpoint]string{}
	r.mu.Unlock()

	var errs []error
	for _, ep := range eps {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
