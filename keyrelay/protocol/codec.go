package protocol

import (
	"bytes"
	"errors"

	"github.com/TheusHen/keyrelay/keyrelay/crypto"
	"github.com/TheusHen/keyrelay/keyrelay/identity"
)

var (
	// ErrDecryption is the only error Decode reports for cryptographic
	// failures. Callers must not be able to tell a wrong key from a
	// corrupted ciphertext or a wrong nonce.
	ErrDecryption = errors.New("protocol: decryption failed")
)

var adPrefix = []byte("keyrelay-envelope-v1")

// Codec seals and opens envelope payloads.
// CompressThreshold enables LZ4 compression of plaintexts at least that many
// bytes long; zero disables compression. Decode handles compressed payloads
// regardless of the receiving codec's setting.
type Codec struct {
	CompressThreshold int
}

// Encode seals plaintext for recipient and returns the resulting envelope.
// A fresh random nonce is generated when nonce is nil.
func Encode(sender identity.KeyPair, recipient identity.Contact, plaintext []byte, typ MessageType, nonce []byte) (Envelope, error) {
	return Codec{}.Encode(sender, recipient, plaintext, typ, nonce)
}

// Decode opens env with secret. It never returns partial plaintext.
func Decode(env Envelope, secret []byte) ([]byte, error) {
	return Codec{}.Decode(env, secret)
}

func (c Codec) Encode(sender identity.KeyPair, recipient identity.Contact, plaintext []byte, typ MessageType, nonce []byte) (Envelope, error) {
	if !typ.Valid() {
		return Envelope{}, ErrMalformedEnvelope
	}
	if nonce == nil {
		var err error
		if nonce, err = crypto.NewNonce(); err != nil {
			return Envelope{}, err
		}
	}
	id, err := NewID()
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Type:  typ,
		ID:    id,
		From:  sender.ID(),
		To:    recipient.ID(),
		Nonce: EncodeBinary(nonce),
	}

	body := plaintext
	if c.CompressThreshold > 0 && len(plaintext) >= c.CompressThreshold {
		if packed, ok := compressIfSmaller(plaintext); ok {
			body = packed
			env.Compressed = true
		}
	}

	ct, err := crypto.Seal(recipient.SharedSecret, nonce, body, associatedData(env))
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = EncodeBinary(ct)
	return env, nil
}

func (c Codec) Decode(env Envelope, secret []byte) ([]byte, error) {
	nonce, err := DecodeBinary(env.Nonce)
	if err != nil {
		return nil, ErrDecryption
	}
	ct, err := DecodeBinary(env.Payload)
	if err != nil || len(ct) == 0 {
		return nil, ErrDecryption
	}
	body, err := crypto.Open(secret, nonce, ct, associatedData(env))
	if err != nil {
		return nil, ErrDecryption
	}
	if !env.Compressed {
		return body, nil
	}
	plain, err := Decompress(body, MaxEnvelopeSize)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// associatedData binds the routing header of env to its ciphertext.
func associatedData(env Envelope) []byte {
	var b bytes.Buffer
	b.Write(adPrefix)
	for _, field := range []string{string(env.Type), env.From, env.To} {
		b.WriteByte(0)
		b.WriteString(field)
	}
	b.WriteByte(0)
	if env.Compressed {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
	return b.Bytes()
}
