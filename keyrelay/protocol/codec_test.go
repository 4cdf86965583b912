package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/TheusHen/keyrelay/keyrelay/crypto"
	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/stretchr/testify/require"
)

func contacts(t *testing.T) (identity.KeyPair, identity.KeyPair, identity.Contact, identity.Contact) {
	t.Helper()
	alice := identity.DeterministicKeyPair("alice")
	bob := identity.DeterministicKeyPair("bob")
	aliceView, err := identity.NewContact(alice, bob.PublicKey[:])
	require.NoError(t, err)
	bobView, err := identity.NewContact(bob, alice.PublicKey[:])
	require.NoError(t, err)
	return alice, bob, aliceView, bobView
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	alice, bob, toBob, fromAlice := contacts(t)

	plaintexts := [][]byte{
		[]byte("hello bob"),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, pt := range plaintexts {
		env, err := Encode(alice, toBob, pt, MessageTypeMessage, nil)
		require.NoError(t, err)
		require.Equal(t, alice.ID(), env.From)
		require.Equal(t, bob.ID(), env.To)
		require.NotEmpty(t, env.ID)
		require.NotContains(t, env.Payload, "=")

		got, err := Decode(env, fromAlice.SharedSecret)
		require.NoError(t, err)
		require.True(t, bytes.Equal(pt, got))
	}
}

func TestEncodeWithExplicitNonce(t *testing.T) {
	alice, _, toBob, fromAlice := contacts(t)
	nonce, err := crypto.NewNonce()
	require.NoError(t, err)

	env, err := Encode(alice, toBob, []byte("challenge"), MessageTypeChallengeResponse, nonce)
	require.NoError(t, err)
	require.Equal(t, EncodeBinary(nonce), env.Nonce)

	got, err := Decode(env, fromAlice.SharedSecret)
	require.NoError(t, err)
	require.Equal(t, "challenge", string(got))
}

func TestDecodeWrongSecretFails(t *testing.T) {
	alice, _, toBob, _ := contacts(t)
	carol := identity.DeterministicKeyPair("carol")
	carolView, err := identity.NewContact(carol, alice.PublicKey[:])
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		env, err := Encode(alice, toBob, []byte("secret"), MessageTypeMessage, nil)
		require.NoError(t, err)
		got, err := Decode(env, carolView.SharedSecret)
		require.ErrorIs(t, err, ErrDecryption)
		require.Nil(t, got)
	}
}

func TestDecodeTamperedEnvelope(t *testing.T) {
	alice, _, toBob, fromAlice := contacts(t)
	env, err := Encode(alice, toBob, []byte("pay me"), MessageTypeMessage, nil)
	require.NoError(t, err)

	otherNonce, _ := crypto.NewNonce()
	carol := identity.DeterministicKeyPair("carol")

	cases := map[string]func(e *Envelope){
		"nonce":      func(e *Envelope) { e.Nonce = EncodeBinary(otherNonce) },
		"to":         func(e *Envelope) { e.To = carol.ID() },
		"from":       func(e *Envelope) { e.From = carol.ID() },
		"type":       func(e *Envelope) { e.Type = MessageTypeChallengeResponse },
		"compressed": func(e *Envelope) { e.Compressed = true },
		"payload": func(e *Envelope) {
			ct, _ := DecodeBinary(e.Payload)
			ct[0] ^= 1
			e.Payload = EncodeBinary(ct)
		},
		"badbase64": func(e *Envelope) { e.Payload = "***" },
		"empty":     func(e *Envelope) { e.Payload = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tampered := env
			mutate(&tampered)
			got, err := Decode(tampered, fromAlice.SharedSecret)
			require.ErrorIs(t, err, ErrDecryption)
			require.Nil(t, got)
		})
	}
}

func TestCodecCompression(t *testing.T) {
	alice, _, toBob, fromAlice := contacts(t)
	codec := Codec{CompressThreshold: 64}

	pt := []byte(strings.Repeat("compressible ", 200))
	env, err := codec.Encode(alice, toBob, pt, MessageTypeMessage, nil)
	require.NoError(t, err)
	require.True(t, env.Compressed)

	raw, _ := DecodeBinary(env.Payload)
	require.Less(t, len(raw), len(pt))

	// A codec with compression disabled still opens compressed payloads.
	got, err := Decode(env, fromAlice.SharedSecret)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	small, err := codec.Encode(alice, toBob, []byte("tiny"), MessageTypeMessage, nil)
	require.NoError(t, err)
	require.False(t, small.Compressed)
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	alice, _, toBob, _ := contacts(t)
	_, err := Encode(alice, toBob, []byte("x"), MessageType("BOGUS"), nil)
	require.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestDecompressLimit(t *testing.T) {
	packed, err := Compress(bytes.Repeat([]byte{0}, 10_000))
	require.NoError(t, err)
	_, err = Decompress(packed, 100)
	require.ErrorIs(t, err, ErrDecompressionFailed)

	out, err := Decompress(packed, 10_000)
	require.NoError(t, err)
	require.Len(t, out, 10_000)
}
