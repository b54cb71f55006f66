package reqauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
)

// IdentityKeyLookup resolves a moltbotId to the Ed25519 public key used to
// verify its requests. Returns ok=false for an unknown id.
type IdentityKeyLookup func(ctx context.Context, moltbotID string) (domain.Ed25519Public, bool)

// Verifier is the relay side of C5.
type Verifier struct {
	Lookup IdentityKeyLookup

	// Now returns the current time in unix milliseconds; overridable in
	// tests. Defaults to the real clock when zero.
	Now func() int64
}

// Verify checks the three C5 headers against r's method, escaped path, and
// body, returning the authenticated moltbotId on success.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) (string, error) {
	moltbotID := r.Header.Get(HeaderMoltbotID)
	tsHeader := r.Header.Get(HeaderTimestamp)
	sigHeader := r.Header.Get(HeaderSignature)
	if moltbotID == "" || tsHeader == "" || sigHeader == "" {
		return "", ErrMissingHeader
	}

	ts, err := parseTimestampHeader(tsHeader)
	if err != nil {
		return "", err
	}

	now := v.Now
	if now == nil {
		now = nowUnixMillis
	}
	skew := now() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > acceptanceWindow {
		return "", ErrTimestampSkew
	}

	pub, ok := v.Lookup(ctx, moltbotID)
	if !ok {
		return "", ErrUnknownMoltbotID
	}

	sig, err := base64.StdEncoding.DecodeString(sigHeader)
	if err != nil {
		return "", ErrMalformedSignature
	}

	msg := CanonicalMessage(ts, r.Method, r.URL.EscapedPath(), body)
	if !cryptocore.Verify(pub, msg, sig) {
		return "", ErrBadSignature
	}
	return moltbotID, nil
}
