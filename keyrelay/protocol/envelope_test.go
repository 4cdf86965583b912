package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal(t *testing.T) {
	in := NewChallenge("c2VydmVy", []byte{1, 2, 3}, "2026-01-01T00:00:00Z")
	text, err := Marshal(in)
	require.NoError(t, err)
	require.Contains(t, text, `"type":"CHALLENGE"`)
	require.NotContains(t, text, `"payload"`)

	out, err := Unmarshal(text)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestUnmarshalMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     "{",
		"unknown type": `{"type":"HELLO"}`,
		"missing type": `{"from":"x"}`,
		"padded nonce": `{"type":"MESSAGE","nonce":"AAE="}`,
		"std base64":   `{"type":"MESSAGE","payload":"a+b/"}`,
		"array":        `[]`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(text)
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	env, err := Unmarshal(`{"type":"DELIVERED","ref":"abc","extra":42}`)
	require.NoError(t, err)
	require.Equal(t, MessageTypeDelivered, env.Type)
	require.Equal(t, "abc", env.Ref)
}

func TestEnvelopeSizeLimit(t *testing.T) {
	_, err := Unmarshal(strings.Repeat(" ", MaxEnvelopeSize+1))
	require.ErrorIs(t, err, ErrEnvelopeTooLarge)

	_, err = Marshal(Envelope{Type: MessageTypeMessage, Payload: strings.Repeat("A", MaxEnvelopeSize)})
	require.ErrorIs(t, err, ErrEnvelopeTooLarge)
}

func TestConstructors(t *testing.T) {
	require.Equal(t, ReasonRecipientUnavailable, NewError(ReasonRecipientUnavailable, "m1").Reason)
	require.Equal(t, "m1", NewDelivered("m1").Ref)
	require.Equal(t, MessageTypeRegisterFailure, NewRegisterFailure(ReasonTimeout).Type)
	require.Equal(t, "k", NewLogout("k").From)
	require.Equal(t, "UNKNOWN", MessageType("x").String())

	a, err := NewID()
	require.NoError(t, err)
	b, _ := NewID()
	require.NotEqual(t, a, b)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: FrameText, Payload: []byte(`{"type":"DELIVERED"}`)}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := WriteFrame(&buf, Frame{Type: FrameClose}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("frame mismatch")
	}
	out, err = ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != FrameClose || len(out.Payload) != 0 {
		t.Fatalf("expected close frame")
	}
}

func TestFrameRejectsBadInput(t *testing.T) {
	if err := WriteFrame(&bytes.Buffer{}, Frame{Type: 9}); err != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	bad := bytes.NewReader([]byte{1, 0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(bad); err == nil {
		t.Fatalf("expected oversized frame error")
	}
}
