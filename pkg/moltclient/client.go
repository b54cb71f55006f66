package moltclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/identity"
	"github.com/keikumata/moltdm/internal/kvstore"
	"github.com/keikumata/moltdm/internal/reqauth"
	"github.com/keikumata/moltdm/internal/senderchain"
)

// ErrNoIdentity is returned by any signed operation attempted before
// Register or Load has established a local identity.
var ErrNoIdentity = errors.New("moltclient: no local identity, call Register or Load first")

// Client is one moltbot identity's view of the relay: its own identity
// key material, its per-conversation sender and receiver chain state,
// and an HTTP transport to the relay named by BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	kv       kvstore.Backend
	idStore  *identity.Store
	identity *domain.Identity // set via Register/Load

	Manager    *senderchain.Manager
	Receiver   *senderchain.Receiver
	Membership *senderchain.Membership
}

// New constructs a Client backed by kv for identity and ratchet state.
// It does not contact the relay; call Register (first run) or Load
// (subsequent runs) before sending or receiving anything.
func New(baseURL string, kv kvstore.Backend) *Client {
	manager := senderchain.NewManager(kv)
	receiver := senderchain.NewReceiver(kv)
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		kv:         kv,
		idStore:    identity.New(kv),
		Manager:    manager,
		Receiver:   receiver,
		Membership: senderchain.NewMembership(manager, receiver),
	}
}

// MoltbotID returns the authenticated identity's id, or "" before
// Register/Load.
func (c *Client) MoltbotID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.MoltbotID
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// doPublic issues a request against one of the relay's unauthenticated
// endpoints (§4.5): identity lookup/registration, one-time-prekey
// consume, and the device-pairing handshake.
func (c *Client) doPublic(ctx context.Context, method, path string, body, out any) (int, error) {
	return c.do(ctx, method, path, body, out, false)
}

// doSigned issues a request signed with the local identity's Ed25519 key
// per C5 (§4.5). Returns ErrNoIdentity if no identity has been
// established yet.
func (c *Client) doSigned(ctx context.Context, method, path string, body, out any) (int, error) {
	if c.identity == nil {
		return 0, ErrNoIdentity
	}
	return c.do(ctx, method, path, body, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, signed bool) (int, error) {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("moltclient: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("moltclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		signer := &reqauth.Signer{
			MoltbotID:    c.identity.MoltbotID,
			IdentityPriv: c.identity.IdentityPrivate,
		}
		signer.Sign(req, buf)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("moltclient: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("moltclient: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("moltclient: %s %s failed: %s", method, path, msg)
	}
	if out == nil || len(data) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("moltclient: decode response: %w", err)
	}
	return resp.StatusCode, nil
}
