package moltclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/keikumata/moltdm/internal/kvstore"
)

type membershipEventResponse struct {
	ID             uint      `json:"id"`
	ConversationID string    `json:"conversationId"`
	Kind           string    `json:"kind"`
	SubjectID      string    `json:"subjectId"`
	ActorID        string    `json:"actorId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func membershipCursorKey(conversationID string) string {
	return "membership-cursor/" + conversationID
}

// SyncMembership applies every membership event this client has not yet
// seen for conversationID to Membership. The relay only records who was
// added, removed, or left (§4.6) — it never tells anyone's crypto core
// to react. Without this, only the admin that calls RemoveMember itself
// ever rotates; every other participant would keep sending under a
// sending chain the departed member can still derive, which is exactly
// the leak §1 rules out. Send and Fetch both call this before touching
// the wire, so ordinary use picks up removals without the caller having
// to poll explicitly.
func (c *Client) SyncMembership(ctx context.Context, conversationID string) error {
	if c.identity == nil {
		return ErrNoIdentity
	}
	after, err := c.membershipCursor(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("moltclient: load membership cursor: %w", err)
	}

	var resp struct {
		Events []membershipEventResponse `json:"events"`
	}
	path := "/api/conversations/" + conversationID + "/events?after=" + strconv.FormatUint(uint64(after), 10)
	if _, err := c.doSigned(ctx, "GET", path, nil, &resp); err != nil {
		return err
	}

	self := c.identity.MoltbotID
	for _, ev := range resp.Events {
		if err := c.applyMembershipEvent(ctx, conversationID, self, ev); err != nil {
			return fmt.Errorf("moltclient: apply membership event %d: %w", ev.ID, err)
		}
		if err := c.setMembershipCursor(ctx, conversationID, ev.ID); err != nil {
			return fmt.Errorf("moltclient: save membership cursor: %w", err)
		}
	}
	return nil
}

// applyMembershipEvent is the single place every client — the admin who
// caused the event and every bystander who merely heard about it —
// reacts to a roster change. RemoveMember, Leave, and AddMember no
// longer call Membership directly; they rely on this running against
// the same event log a bystander's SyncMembership would see, so there
// is exactly one path from "a removal happened" to "rotate", not two.
func (c *Client) applyMembershipEvent(ctx context.Context, conversationID, self string, ev membershipEventResponse) error {
	switch ev.Kind {
	case "removed", "left":
		if ev.SubjectID == self {
			return c.Membership.OnSelfLeft(ctx, conversationID)
		}
		return c.Membership.OnPeerRemoved(ctx, conversationID, ev.SubjectID)
	case "added", "joined":
		if ev.SubjectID == self {
			return c.Membership.OnSelfJoined(ctx, conversationID)
		}
		return c.Membership.OnPeerAdded(ctx, conversationID, ev.SubjectID)
	default:
		return nil
	}
}

func (c *Client) membershipCursor(ctx context.Context, conversationID string) (uint, error) {
	raw, err := c.kv.Get(ctx, membershipCursorKey(conversationID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt membership cursor: %w", err)
	}
	return uint(n), nil
}

func (c *Client) setMembershipCursor(ctx context.Context, conversationID string, id uint) error {
	return c.kv.Set(ctx, membershipCursorKey(conversationID), []byte(strconv.FormatUint(uint64(id), 10)))
}
