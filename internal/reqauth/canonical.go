// Package reqauth implements C5, the request authenticator: clients sign
// every non-public relay request with their Ed25519 identity key, and the
// relay verifies the signature, the timestamp window, and the caller's
// identity before the request reaches a handler (§4.5).
package reqauth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	HeaderMoltbotID = "X-Moltbot-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// bodyHash returns the lowercase hex SHA-256 of body, or the empty string
// if body is empty — the empty case is a literal empty string in the
// canonical message, not the hash of zero bytes (§4.5).
func bodyHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalMessage builds "{timestampMs}:{METHOD}:{path}:{bodyHash}" per
// §4.5. path must be the raw, URL-encoded request path (e.g. the value of
// (*url.URL).EscapedPath, not the decoded Path) so a percent-encoded byte
// sequence in the path can't be normalised differently by client and
// relay and break the signature.
func CanonicalMessage(timestampMs int64, method, path string, body []byte) []byte {
	s := fmt.Sprintf("%d:%s:%s:%s", timestampMs, strings.ToUpper(method), path, bodyHash(body))
	return []byte(s)
}

func parseTimestampHeader(v string) (int64, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrMalformedTimestamp
	}
	return ms, nil
}
