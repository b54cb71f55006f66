package moltclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/identity"
)

type registerIdentityRequest struct {
	IdentityPublicKey     string   `json:"publicKey"`
	SignedPreKey          string   `json:"signedPreKey"`
	SignedPreKeySignature string   `json:"preKeySignature"`
	OneTimePreKeys        []string `json:"oneTimePreKeys"`
}

type identityBundleResponse struct {
	ID                    string `json:"id"`
	IdentityPublicKey     string `json:"publicKey"`
	SignedPreKey          string `json:"signedPreKey"`
	SignedPreKeySignature string `json:"preKeySignature"`
}

type registerIdentityResponse struct {
	Identity identityBundleResponse `json:"identity"`
}

// Register generates a fresh identity key, signed prekey, and one-time
// prekey pool locally (§4.1), registers the public halves with the
// relay, and persists the resulting identity — including the moltbotId
// the relay assigns — to the local kvstore. Only ever call this once per
// identity; a second device for the same identity uses the pairing flow
// (InitiatePairing/CompletePairing), not a second Register.
func (c *Client) Register(ctx context.Context, oneTimePreKeyCount int) error {
	id, err := identity.Generate(oneTimePreKeyCount)
	if err != nil {
		return fmt.Errorf("moltclient: generate identity: %w", err)
	}

	otks := make([]string, 0, len(id.OneTimePreKeys))
	for _, kp := range id.OneTimePreKeys {
		otks = append(otks, b64(kp.Public[:]))
	}

	req := registerIdentityRequest{
		IdentityPublicKey:     b64(id.IdentityPublic[:]),
		SignedPreKey:          b64(id.SignedPreKey.Public[:]),
		SignedPreKeySignature: b64(id.SignedPreKeySig),
		OneTimePreKeys:        otks,
	}

	var resp registerIdentityResponse
	if _, err := c.doPublic(ctx, "POST", "/api/identity/register", req, &resp); err != nil {
		return err
	}

	id.MoltbotID = resp.Identity.ID
	if err := c.idStore.Save(ctx, id); err != nil {
		return fmt.Errorf("moltclient: persist registered identity: %w", err)
	}
	c.identity = id
	return nil
}

// Load reads a previously registered identity back from the local
// kvstore (§9 — "treat it as process-wide with explicit init and
// teardown").
func (c *Client) Load(ctx context.Context) error {
	id, err := c.idStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("moltclient: load identity: %w", err)
	}
	c.identity = id
	return nil
}

// Replenish generates count additional one-time prekeys and uploads the
// public halves to the relay (§4.1).
func (c *Client) Replenish(ctx context.Context, count int) error {
	if c.identity == nil {
		return ErrNoIdentity
	}
	added, err := c.idStore.Replenish(ctx, c.identity, count)
	if err != nil {
		return err
	}
	otks := make([]string, 0, len(added))
	for _, pub := range added {
		otks = append(otks, b64(pub[:]))
	}
	req := struct {
		OneTimePreKeys []string `json:"oneTimePreKeys"`
	}{OneTimePreKeys: otks}
	_, err = c.doSigned(ctx, "POST", "/api/identity/"+c.identity.MoltbotID+"/prekeys", req, nil)
	return err
}

// SignedPreKey implements senderchain.PrekeyFetcher: it fetches
// moltbotID's published signed prekey from the relay directory so
// Distribute can wrap a chain key to it (§4.4).
func (c *Client) SignedPreKey(ctx context.Context, moltbotID string) (domain.X25519Public, error) {
	var resp identityBundleResponse
	if _, err := c.doPublic(ctx, "GET", "/api/identity/"+moltbotID, nil, &resp); err != nil {
		return domain.X25519Public{}, err
	}
	return decode32(resp.SignedPreKey)
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decode32(s string) (domain.X25519Public, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return domain.X25519Public{}, fmt.Errorf("moltclient: decode key: %w", err)
	}
	if len(b) != 32 {
		return domain.X25519Public{}, fmt.Errorf("moltclient: expected 32 decoded bytes, got %d", len(b))
	}
	var out domain.X25519Public
	copy(out[:], b)
	return out, nil
}
