package relay

import (
	"fmt"
	"net/http"

	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

// requireSelf enforces the "must equal X-Moltbot-Id" constraint named
// for a handful of §6 endpoints (e.g. appending one-time prekeys).
func requireSelf(r *http.Request, subjectID string) error {
	authenticated := reqauth.MoltbotIDFromContext(r.Context())
	if authenticated == "" || authenticated != subjectID {
		return fmt.Errorf("caller does not match path identity")
	}
	return nil
}

// requireMember enforces conversation authorization (§7 — "Authorization:
// non-member, non-admin action: reject; state unchanged").
func requireMember(members []string, id string) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}

// wasEverMember allows a client who has since been removed to still read
// the history it was present for: it can no longer send, add, remove, or
// list the roster, but it may still fetch messages, the last of which it
// will find itself unable to decrypt once the sender rotates past it
// (§8, S4). Confidentiality after removal is the ratchet's job, not the
// relay's access check.
func wasEverMember(events []relaystore.MembershipEvent, id string) bool {
	for _, ev := range events {
		if ev.SubjectID == id {
			return true
		}
	}
	return false
}
