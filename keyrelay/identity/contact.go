package identity

import (
	"sync"

	"github.com/TheusHen/keyrelay/keyrelay/crypto"
)

// Contact is a remote identity together with the secret shared with it.
// SharedSecret is as sensitive as a private key.
type Contact struct {
	PublicKey    [KeySize]byte
	SharedSecret []byte
}

// ID returns the wire name of the contact.
func (c Contact) ID() string { return EncodePublicKey(c.PublicKey[:]) }

// NewContact derives the contact for remotePublicKey as seen by local.
func NewContact(local KeyPair, remotePublicKey []byte) (Contact, error) {
	secret, err := local.SharedSecret(remotePublicKey)
	if err != nil {
		return Contact{}, err
	}
	var c Contact
	copy(c.PublicKey[:], remotePublicKey)
	c.SharedSecret = secret
	return c, nil
}

// ContactBook caches derived contacts so a secret is derived once per remote
// identity rather than once per message. It is safe for concurrent use.
type ContactBook struct {
	local    KeyPair
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewContactBook(local KeyPair) *ContactBook {
	return &ContactBook{local: local, contacts: map[string]Contact{}}
}

// Contact returns the cached contact for the wire key id, deriving it on first use.
func (b *ContactBook) Contact(id string) (Contact, error) {
	b.mu.RLock()
	c, ok := b.contacts[id]
	b.mu.RUnlock()
	if ok {
		return c, nil
	}

	pk, err := ParsePublicKey(id)
	if err != nil {
		return Contact{}, err
	}
	c, err = NewContact(b.local, pk[:])
	if err != nil {
		return Contact{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.contacts[id]; ok {
		crypto.Wipe(c.SharedSecret)
		return existing, nil
	}
	b.contacts[id] = c
	return c, nil
}

// Len returns the number of cached contacts.
func (b *ContactBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts)
}
