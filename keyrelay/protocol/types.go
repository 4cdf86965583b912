package protocol

// MessageType is the envelope "type" field.
type MessageType string

const (
	MessageTypeChallenge         MessageType = "CHALLENGE"
	MessageTypeChallengeResponse MessageType = "CHALLENGE_RESPONSE"
	MessageTypeRegisterSuccess   MessageType = "REGISTER_SUCCESS"
	MessageTypeRegisterFailure   MessageType = "REGISTER_FAILURE"
	MessageTypeMessage           MessageType = "MESSAGE"
	MessageTypeDelivered         MessageType = "DELIVERED"
	MessageTypeError             MessageType = "ERROR"
	MessageTypeLogout            MessageType = "LOGOUT"
)

// Valid reports whether t is a type this protocol knows.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeChallenge, MessageTypeChallengeResponse,
		MessageTypeRegisterSuccess, MessageTypeRegisterFailure,
		MessageTypeMessage, MessageTypeDelivered, MessageTypeError,
		MessageTypeLogout:
		return true
	default:
		return false
	}
}

func (t MessageType) String() string {
	if t.Valid() {
		return string(t)
	}
	return "UNKNOWN"
}

// Reason explains a REGISTER_FAILURE or ERROR envelope.
type Reason string

const (
	// Handshake failures.
	ReasonInvalidCiphertext Reason = "INVALID_SIGNATURE_OR_CIPHERTEXT"
	ReasonUnexpectedMessage Reason = "UNEXPECTED_MESSAGE_TYPE"
	ReasonDuplicateIdentity Reason = "DUPLICATE_IDENTITY"
	ReasonTimeout           Reason = "TIMEOUT"
	ReasonMalformedEnvelope Reason = "MALFORMED_ENVELOPE"

	// Routing failures.
	ReasonSenderNotRegistered  Reason = "SENDER_NOT_REGISTERED"
	ReasonMismatchedIdentity   Reason = "MISMATCHED_IDENTITY"
	ReasonMissingPayload       Reason = "MISSING_PAYLOAD"
	ReasonUnsupportedType      Reason = "UNSUPPORTED_TYPE"
	ReasonRecipientUnavailable Reason = "RECIPIENT_UNAVAILABLE"
	ReasonRateLimited          Reason = "RATE_LIMITED"
)

func (r Reason) String() string { return string(r) }
