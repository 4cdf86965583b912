package protocol

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/samber/oops"
)

const (
	// MaxEnvelopeSize limits a single wire envelope.
	MaxEnvelopeSize = 1 << 20 // 1 MiB

	idSize = 16
)

var (
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrEnvelopeTooLarge  = errors.New("protocol: envelope too large")
)

// Envelope is the structured wire message exchanged between parties.
// Envelopes are immutable once sent; relays forward the received text rather
// than a re-encoding of this struct.
type Envelope struct {
	Type       MessageType `json:"type"`
	ID         string      `json:"id,omitempty"`
	Ref        string      `json:"ref,omitempty"`
	From       string      `json:"from,omitempty"`
	To         string      `json:"to,omitempty"`
	Nonce      string      `json:"nonce,omitempty"`
	Payload    string      `json:"payload,omitempty"`
	Challenge  string      `json:"challenge,omitempty"`
	Reason     Reason      `json:"reason,omitempty"`
	Compressed bool        `json:"compressed,omitempty"`
}

// Marshal returns the wire text of env.
func Marshal(env Envelope) (string, error) {
	if !env.Type.Valid() {
		return "", oops.In("protocol").With("type", string(env.Type)).Wrapf(ErrMalformedEnvelope, "marshal")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if len(b) > MaxEnvelopeSize {
		return "", ErrEnvelopeTooLarge
	}
	return string(b), nil
}

// Unmarshal parses wire text into an Envelope. Unknown fields are ignored;
// unknown types and binary fields that are not unpadded base64url are
// rejected with ErrMalformedEnvelope.
func Unmarshal(text string) (Envelope, error) {
	if len(text) > MaxEnvelopeSize {
		return Envelope{}, ErrEnvelopeTooLarge
	}
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, oops.In("protocol").Wrapf(ErrMalformedEnvelope, "decode json: %v", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, oops.In("protocol").With("type", string(env.Type)).Wrapf(ErrMalformedEnvelope, "unknown type")
	}
	for name, field := range map[string]string{"nonce": env.Nonce, "payload": env.Payload} {
		if field == "" {
			continue
		}
		if _, err := DecodeBinary(field); err != nil {
			return Envelope{}, oops.In("protocol").With("field", name).Wrapf(ErrMalformedEnvelope, "bad base64url")
		}
	}
	return env, nil
}

// EncodeBinary returns the unpadded base64url form of b.
func EncodeBinary(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBinary reverses EncodeBinary.
func DecodeBinary(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// NewID returns a random envelope identifier.
func NewID() (string, error) {
	b := make([]byte, idSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return EncodeBinary(b), nil
}

// NewChallenge builds the responder's opening CHALLENGE.
func NewChallenge(from string, nonce []byte, challenge string) Envelope {
	return Envelope{
		Type:      MessageTypeChallenge,
		From:      from,
		Nonce:     EncodeBinary(nonce),
		Challenge: challenge,
	}
}

func NewRegisterSuccess(to string) Envelope {
	return Envelope{Type: MessageTypeRegisterSuccess, To: to}
}

func NewRegisterFailure(reason Reason) Envelope {
	return Envelope{Type: MessageTypeRegisterFailure, Reason: reason}
}

// NewDelivered acknowledges the message whose id is ref.
func NewDelivered(ref string) Envelope {
	return Envelope{Type: MessageTypeDelivered, Ref: ref}
}

// NewError reports a routing failure for the message whose id is ref.
func NewError(reason Reason, ref string) Envelope {
	return Envelope{Type: MessageTypeError, Reason: reason, Ref: ref}
}

// NewLogout asks the server to drop the sender's registration.
func NewLogout(from string) Envelope {
	return Envelope{Type: MessageTypeLogout, From: from}
}
