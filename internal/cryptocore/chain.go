package cryptocore

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/keikumata/moltdm/internal/domain"
)

// Fixed single-byte HMAC labels. Observable on the wire via derived
// ciphertexts; any deviation breaks interop (§4.2).
var (
	labelMessageKey  = []byte{0x01}
	labelNextChainKey = []byte{0x02}
)

// MessageKey derives the single-use 32-byte AES-256-GCM key for the
// current chain position: HMAC-SHA256(chainKey, 0x01).
func MessageKey(chainKey domain.ChainKey) domain.ChainKey {
	return hmacLabel(chainKey, labelMessageKey)
}

// NextChainKey ratchets the chain forward one step: HMAC-SHA256(chainKey, 0x02).
// This is the one-way function that provides forward secrecy: given only
// the chain key at index i, no message key at index j < i can be produced.
func NextChainKey(chainKey domain.ChainKey) domain.ChainKey {
	return hmacLabel(chainKey, labelNextChainKey)
}

func hmacLabel(key domain.ChainKey, label []byte) domain.ChainKey {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(label)
	sum := mac.Sum(nil)
	var out domain.ChainKey
	copy(out[:], sum)
	return out
}
