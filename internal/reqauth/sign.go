package reqauth

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
)

// Signer attaches the three C5 headers to an outgoing request.
type Signer struct {
	MoltbotID    string
	IdentityPriv domain.Ed25519Private

	// Now returns the current time in unix milliseconds; overridable in
	// tests. Defaults to the real clock when zero.
	Now func() int64
}

// Sign sets X-Moltbot-Id, X-Timestamp, and X-Signature on req. body must be
// the exact bytes that will be sent on the wire; callers that buffer the
// body for signing must also use that buffered copy as the request body,
// since any re-encoding would invalidate the signature.
func (s *Signer) Sign(req *http.Request, body []byte) {
	now := s.Now
	if now == nil {
		now = nowUnixMillis
	}
	ts := now()
	msg := CanonicalMessage(ts, req.Method, req.URL.EscapedPath(), body)
	sig := cryptocore.Sign(s.IdentityPriv, msg)

	req.Header.Set(HeaderMoltbotID, s.MoltbotID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
}
