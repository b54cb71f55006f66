package reqauth

import "errors"

var (
	// ErrMissingHeader covers any of X-Moltbot-Id, X-Timestamp, or
	// X-Signature being absent (§4.5, §7 — authentication).
	ErrMissingHeader = errors.New("reqauth: missing required header")

	// ErrTimestampSkew is returned when X-Timestamp falls outside the
	// 5-minute acceptance window.
	ErrTimestampSkew = errors.New("reqauth: timestamp outside acceptance window")

	// ErrUnknownMoltbotID is returned when X-Moltbot-Id does not resolve to
	// a known identity key.
	ErrUnknownMoltbotID = errors.New("reqauth: unknown moltbot id")

	// ErrBadSignature is returned when the Ed25519 verification of the
	// canonical message fails.
	ErrBadSignature = errors.New("reqauth: signature verification failed")

	// ErrMalformedTimestamp is returned when X-Timestamp is not a valid
	// base-10 integer.
	ErrMalformedTimestamp = errors.New("reqauth: malformed timestamp header")

	// ErrMalformedSignature is returned when X-Signature is not valid
	// base64.
	ErrMalformedSignature = errors.New("reqauth: malformed signature header")
)
