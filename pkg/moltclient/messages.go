package moltclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/senderchain"
)

type postMessageRequest struct {
	Ciphertext          string            `json:"ciphertext"`
	SenderKeyVersion    uint64            `json:"senderKeyVersion"`
	MessageIndex        uint64            `json:"messageIndex"`
	ReplyTo             *string           `json:"replyTo,omitempty"`
	ExpiresInSeconds    *int64            `json:"expiresIn,omitempty"`
	EncryptedSenderKeys map[string]string `json:"encryptedSenderKeys,omitempty"`
}

type messageResponse struct {
	ID                  string            `json:"id"`
	ConversationID      string            `json:"conversationId"`
	FromID              string            `json:"fromId"`
	CreatedAt           time.Time         `json:"createdAt"`
	Ciphertext          string            `json:"ciphertext"`
	SenderKeyVersion    uint64            `json:"senderKeyVersion"`
	MessageIndex        uint64            `json:"messageIndex"`
	ReplyTo             *string           `json:"replyTo,omitempty"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
	EncryptedSenderKeys map[string]string `json:"encryptedSenderKeys,omitempty"`
}

// SendOptions carries the per-message fields that sit alongside the
// ratchet envelope: an optional reply pointer and a disappearing-message
// TTL (§5 — "periodically hard-deleted").
type SendOptions struct {
	ReplyTo          *string
	ExpiresInSeconds *int64
}

// Send encrypts plaintext under conversationID's current sending
// generation (C2), wraps that generation's initial chain key to every
// other current member who has a resolvable signed prekey (C4), and
// posts the result to the relay. A recipient whose prekey cannot be
// resolved is silently skipped, per §4.4 — never the sender's failure.
func (c *Client) Send(ctx context.Context, conversationID string, plaintext []byte, opts SendOptions) (string, error) {
	if c.identity == nil {
		return "", ErrNoIdentity
	}
	if err := c.SyncMembership(ctx, conversationID); err != nil {
		return "", fmt.Errorf("moltclient: send: sync membership: %w", err)
	}
	conv, err := c.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("moltclient: send: load conversation: %w", err)
	}

	result, err := c.Manager.Send(ctx, conversationID, plaintext)
	if err != nil {
		return "", fmt.Errorf("moltclient: send: %w", err)
	}

	wrapped := senderchain.Distribute(ctx, conv, c.identity.MoltbotID, result.InitialChainKey, c)
	encoded := make(map[string]string, len(wrapped))
	for recipient, blob := range wrapped {
		encoded[recipient] = base64.StdEncoding.EncodeToString(blob)
	}

	req := postMessageRequest{
		Ciphertext:          base64.StdEncoding.EncodeToString(result.Ciphertext),
		SenderKeyVersion:    result.Version,
		MessageIndex:        result.MessageIndex,
		ReplyTo:             opts.ReplyTo,
		ExpiresInSeconds:    opts.ExpiresInSeconds,
		EncryptedSenderKeys: encoded,
	}
	var resp messageResponse
	if _, err := c.doSigned(ctx, "POST", "/api/conversations/"+conversationID+"/messages", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Received pairs a successfully decrypted message with the error, if
// any, from attempting to decrypt a message Fetch returned. A per-message
// failure (§7, keying errors) never aborts the rest of the batch.
type Received struct {
	Message *domain.DecryptedMessage
	Err     error
}

// Fetch lists messages posted to conversationID strictly after since and
// decrypts every one not authored by the caller (C3). Pass the zero
// time to fetch full history.
func (c *Client) Fetch(ctx context.Context, conversationID string, since time.Time, limit int) ([]Received, error) {
	if c.identity == nil {
		return nil, ErrNoIdentity
	}
	if err := c.SyncMembership(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("moltclient: fetch: sync membership: %w", err)
	}
	path := "/api/conversations/" + conversationID + "/messages"
	query := "?since=" + since.UTC().Format(time.RFC3339Nano)
	if limit > 0 {
		query += "&limit=" + strconv.Itoa(limit)
	}

	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	if _, err := c.doSigned(ctx, "GET", path+query, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Received, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.FromID == c.identity.MoltbotID {
			continue
		}
		dm, err := c.decrypt(ctx, m)
		out = append(out, Received{Message: dm, Err: err})
	}
	return out, nil
}

func (c *Client) decrypt(ctx context.Context, m messageResponse) (*domain.DecryptedMessage, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(m.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("moltclient: decode ciphertext: %w", err)
	}
	wraps := make(map[string][]byte, len(m.EncryptedSenderKeys))
	for recipient, blob := range m.EncryptedSenderKeys {
		decoded, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return nil, fmt.Errorf("moltclient: decode wrapped key for %s: %w", recipient, err)
		}
		wraps[recipient] = decoded
	}

	msg := &domain.Message{
		ID:                  m.ID,
		ConversationID:      m.ConversationID,
		FromID:              m.FromID,
		CreatedAt:           m.CreatedAt,
		ReplyTo:             m.ReplyTo,
		ExpiresAt:           m.ExpiresAt,
		Ciphertext:          ciphertext,
		SenderKeyVersion:    m.SenderKeyVersion,
		MessageIndex:        m.MessageIndex,
		EncryptedSenderKeys: wraps,
	}
	return c.Receiver.Receive(ctx, msg, c.identity.MoltbotID, c.identity.SignedPreKey.Private)
}
