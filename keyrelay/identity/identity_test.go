package identity

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestSharedSecretReciprocity(t *testing.T) {
	for i := 0; i < 64; i++ {
		a, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		b, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}

		ab, err := DeriveSharedSecret(a.PrivateKey[:], b.PublicKey[:])
		if err != nil {
			t.Fatalf("derive a->b: %v", err)
		}
		ba, err := DeriveSharedSecret(b.PrivateKey[:], a.PublicKey[:])
		if err != nil {
			t.Fatalf("derive b->a: %v", err)
		}
		if !bytes.Equal(ab, ba) {
			t.Fatalf("shared secrets do not match on iteration %d", i)
		}
		if len(ab) != 32 {
			t.Fatalf("unexpected secret length %d", len(ab))
		}
	}
}

func TestSharedSecretReciprocityDeterministic(t *testing.T) {
	// Imported keys (the path a server takes) must agree with generated ones.
	for i := 0; i < 16; i++ {
		a := DeterministicKeyPair(fmt.Sprintf("a-%d", i))
		b := DeterministicKeyPair(fmt.Sprintf("b-%d", i))

		imported, err := NewKeyPair(b.PublicKey[:], b.PrivateKey[:])
		if err != nil {
			t.Fatalf("NewKeyPair: %v", err)
		}
		s1, err := a.SharedSecret(imported.PublicKey[:])
		if err != nil {
			t.Fatalf("SharedSecret: %v", err)
		}
		s2, err := imported.SharedSecret(a.PublicKey[:])
		if err != nil {
			t.Fatalf("SharedSecret: %v", err)
		}
		if !bytes.Equal(s1, s2) {
			t.Fatalf("imported key disagrees on iteration %d", i)
		}
	}
}

func TestSharedSecretDistinctPeers(t *testing.T) {
	a := DeterministicKeyPair("a")
	b := DeterministicKeyPair("b")
	c := DeterministicKeyPair("c")
	ab, _ := a.SharedSecret(b.PublicKey[:])
	ac, _ := a.SharedSecret(c.PublicKey[:])
	if bytes.Equal(ab, ac) {
		t.Fatalf("secrets with different peers should differ")
	}
}

func TestDeriveSharedSecretInvalidKey(t *testing.T) {
	a := DeterministicKeyPair("a")
	cases := map[string][]byte{
		"short":    make([]byte, 31),
		"long":     make([]byte, 33),
		"zero":     make([]byte, 32),
		"nil":      nil,
		"identity": append([]byte{1}, make([]byte, 31)...),
	}
	for name, pub := range cases {
		if _, err := DeriveSharedSecret(a.PrivateKey[:], pub); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("%s: expected ErrInvalidKey, got %v", name, err)
		}
	}
	if _, err := DeriveSharedSecret(make([]byte, 5), a.PublicKey[:]); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short private key, got %v", err)
	}
}

func TestNewKeyPairRejectsMismatch(t *testing.T) {
	a := DeterministicKeyPair("a")
	b := DeterministicKeyPair("b")
	if _, err := NewKeyPair(b.PublicKey[:], a.PrivateKey[:]); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewKeyPair(a.PublicKey[:5], a.PrivateKey[:]); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := KeyPairFromPrivate(nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDeterministicKeyPairStable(t *testing.T) {
	if DeterministicKeyPair("x") != DeterministicKeyPair("x") {
		t.Fatalf("DeterministicKeyPair not stable")
	}
	if DeterministicKeyPair("x") == DeterministicKeyPair("y") {
		t.Fatalf("different seeds should give different keys")
	}
}

func TestPublicKeyEncoding(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	id := kp.ID()
	if bytes.ContainsAny([]byte(id), "=+/") {
		t.Fatalf("expected unpadded base64url, got %q", id)
	}
	parsed, err := ParsePublicKey(id)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed != kp.PublicKey {
		t.Fatalf("ParsePublicKey mismatch")
	}
	if _, err := ParsePublicKey("not base64!"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := ParsePublicKey(EncodePublicKey([]byte("short"))); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if len(Fingerprint(kp.PublicKey[:])) != 16 {
		t.Fatalf("unexpected fingerprint length")
	}
	if FingerprintID(id) != Fingerprint(kp.PublicKey[:]) {
		t.Fatalf("FingerprintID mismatch")
	}
}

func TestContactBook(t *testing.T) {
	a := DeterministicKeyPair("a")
	b := DeterministicKeyPair("b")
	book := NewContactBook(a)

	c1, err := book.Contact(b.ID())
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	c2, err := book.Contact(b.ID())
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if &c1.SharedSecret[0] != &c2.SharedSecret[0] {
		t.Fatalf("expected cached secret to be reused")
	}
	if c1.ID() != b.ID() {
		t.Fatalf("contact id mismatch")
	}
	want, _ := b.SharedSecret(a.PublicKey[:])
	if !bytes.Equal(c1.SharedSecret, want) {
		t.Fatalf("cached secret disagrees with peer derivation")
	}
	if book.Len() != 1 {
		t.Fatalf("expected 1 contact, got %d", book.Len())
	}

	if _, err := book.Contact("garbage"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
