package moltclient

import (
	"context"

	"github.com/keikumata/moltdm/internal/domain"
)

type conversationResponse struct {
	ID               string   `json:"id"`
	Name             *string  `json:"name,omitempty"`
	Type             string   `json:"type"`
	SenderKeyVersion uint64   `json:"senderKeyVersion"`
	MemberIDs        []string `json:"memberIds"`
	Admins           []string `json:"admins,omitempty"`
}

func (r conversationResponse) toConversation() *domain.Conversation {
	return &domain.Conversation{
		ID:               r.ID,
		Members:          r.MemberIDs,
		Admins:           r.Admins,
		SenderKeyVersion: r.SenderKeyVersion,
	}
}

// CreateConversation creates a conversation with the caller plus every id
// in memberIDs as members (§6). The caller is always included and set as
// the initial admin.
func (c *Client) CreateConversation(ctx context.Context, memberIDs []string, name *string, convType string) (*domain.Conversation, error) {
	req := struct {
		MemberIDs []string `json:"memberIds"`
		Name      *string  `json:"name,omitempty"`
		Type      string   `json:"type,omitempty"`
	}{MemberIDs: memberIDs, Name: name, Type: convType}

	var resp conversationResponse
	if _, err := c.doSigned(ctx, "POST", "/api/conversations", req, &resp); err != nil {
		return nil, err
	}
	return resp.toConversation(), nil
}

// GetConversation fetches the current roster for conversationID. Every
// send first re-fetches this rather than caching it, so Distribute
// always wraps to the live member set (§4.4).
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var resp conversationResponse
	if _, err := c.doSigned(ctx, "GET", "/api/conversations/"+conversationID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toConversation(), nil
}

// Rename updates a conversation's display name. Caller must be an admin.
func (c *Client) Rename(ctx context.Context, conversationID string, name *string) error {
	req := struct {
		Name *string `json:"name"`
	}{Name: name}
	_, err := c.doSigned(ctx, "PATCH", "/api/conversations/"+conversationID, req, nil)
	return err
}

// DeleteConversation removes a conversation and everything that cascades
// from it (§6 — "Cascade deletes follow the conversation"). Caller must
// be an admin.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.doSigned(ctx, "DELETE", "/api/conversations/"+conversationID, nil, nil)
	return err
}

// AddMember adds moltbotID to conversationID (§4.6 — "Peer added: no
// immediate action"). This never triggers a rotation; the new member
// starts receiving the current sending generation on the next Send.
// SyncMembership applies the resulting event the same way it would for
// any bystander who merely fetched the roster change rather than
// caused it.
func (c *Client) AddMember(ctx context.Context, conversationID, moltbotID string) error {
	req := struct {
		MoltbotID string `json:"moltbotId"`
	}{MoltbotID: moltbotID}
	_, err := c.doSigned(ctx, "POST", "/api/conversations/"+conversationID+"/members", req, nil)
	if err != nil {
		return err
	}
	return c.SyncMembership(ctx, conversationID)
}

// RemoveMember removes moltbotID from conversationID. It does not rotate
// this client's sending chain itself — SyncMembership does, reacting to
// the "removed" event exactly as every other participant's own
// SyncMembership call will when it next sends or fetches (§4.2, §4.6,
// S4). A single reaction path means the acting admin and a bystander
// rotate for the same reason, not two different ones.
func (c *Client) RemoveMember(ctx context.Context, conversationID, moltbotID string) error {
	_, err := c.doSigned(ctx, "DELETE", "/api/conversations/"+conversationID+"/members/"+moltbotID, nil, nil)
	if err != nil {
		return err
	}
	return c.SyncMembership(ctx, conversationID)
}

// SetAdmin grants or revokes admin on moltbotID within conversationID.
// Caller must already be an admin.
func (c *Client) SetAdmin(ctx context.Context, conversationID, moltbotID string, isAdmin bool) error {
	req := struct {
		MoltbotID string `json:"moltbotId"`
	}{MoltbotID: moltbotID}
	path := "/api/conversations/" + conversationID + "/admins/" + moltbotID
	method := "DELETE"
	if isAdmin {
		path = "/api/conversations/" + conversationID + "/admins"
		method = "POST"
	}
	_, err := c.doSigned(ctx, method, path, req, nil)
	return err
}

// Leave removes the caller from conversationID. SyncMembership sees the
// caller as the subject of its own "left" event and destroys the local
// sending state for it (§4.6 — "Self leaves: destroy local sender
// state"). Unlike RemoveMember this never rotates — the departing
// client has no further use for the sending chain it is about to
// destroy.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	self := c.MoltbotID()
	_, err := c.doSigned(ctx, "DELETE", "/api/conversations/"+conversationID+"/members/"+self, nil, nil)
	if err != nil {
		return err
	}
	return c.SyncMembership(ctx, conversationID)
}
