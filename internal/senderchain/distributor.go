package senderchain

import (
	"context"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
)

// PrekeyFetcher resolves a recipient's current signed-prekey public half,
// e.g. by calling the relay's GET /identity/:id endpoint. A missing or
// unresolvable recipient is the caller's signal to skip that recipient
// rather than fail the whole distribution (§4.4, §7 — keying errors are
// per-recipient, not fatal to the send).
type PrekeyFetcher interface {
	SignedPreKey(ctx context.Context, moltbotID string) (domain.X25519Public, error)
}

// Distribute implements C4: it wraps initialChainKey to every member of
// conv other than selfID, using each recipient's signed prekey. Recipients
// whose prekey cannot be resolved are silently skipped — per §4.4 this is
// never the sender's failure, since the recipient just won't be able to
// decrypt until a later Distribute call resolves their signed prekey.
//
// Per §4.2/§4.4 this always wraps the version's initial chain key, never
// the live ratcheted key — a recipient who joins mid-stream and later
// receives this wrap starts at index 0 of that version, so every message
// of the version, including ones sent before they joined, is derivable
// from it.
func Distribute(ctx context.Context, conv *domain.Conversation, selfID string, initialChainKey domain.ChainKey, fetcher PrekeyFetcher) map[string][]byte {
	out := make(map[string][]byte, len(conv.Members))
	for _, member := range conv.Members {
		if member == selfID {
			continue
		}
		spk, err := fetcher.SignedPreKey(ctx, member)
		if err != nil {
			continue
		}
		wrapped, err := cryptocore.WrapChainKey(spk, initialChainKey)
		if err != nil {
			continue
		}
		out[member] = wrapped
	}
	return out
}
