package domain

import "errors"

// Error categories per the request-authentication and keying error taxonomy.
// Handlers map these to response codes; none propagate past the caller that
// surfaces them.
var (
	ErrInvalidRequest  = errors.New("domain: invalid request")
	ErrUnauthenticated = errors.New("domain: unauthenticated")
	ErrForbidden       = errors.New("domain: forbidden")
	ErrNotFound        = errors.New("domain: not found")

	// ErrKeyingUndecryptable covers the locally-recoverable cases: no chain
	// key yet, wrap/unwrap failed, or the peer's signed prekey is
	// unavailable. Existing good state is never evicted for these.
	ErrKeyingUndecryptable = errors.New("domain: message undecryptable")

	// ErrCryptoIntegrity is an AEAD tag or HMAC anomaly. Treated as an
	// active-attack signal; the ratchet never advances past the failure.
	ErrCryptoIntegrity = errors.New("domain: crypto integrity failure")

	// ErrPastIndex is a message whose index is behind the receiver chain's
	// current position and was not found in the skipped-key cache.
	ErrPastIndex = errors.New("domain: message index already consumed")

	// ErrIdentityNotDecrypting flags an identity loaded without a signed
	// prekey private half (see §4.1 — identities created before SPK
	// privates were persisted).
	ErrIdentityNotDecrypting = errors.New("domain: identity cannot decrypt, missing signed prekey private")
)
