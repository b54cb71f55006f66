package moltclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/pairing"
)

// ErrPairingNotClaimed is returned by CompletePairing while the pairing
// device has not yet called ClaimPairing.
var ErrPairingNotClaimed = errors.New("moltclient: pairing request not yet claimed")

type pairingStatusResponse struct {
	Status                   string `json:"status"`
	DeviceEphemeralPublicKey string `json:"deviceEphemeralPublicKey,omitempty"`
	SenderEphemeralPublicKey string `json:"senderEphemeralPublicKey,omitempty"`
	EncryptionKeysBlob       string `json:"encryptionKeysBlob,omitempty"`
}

// InitiatePairing mints a 5-minute pairing token scoped to the caller
// (§4.6, §5). The caller turns token into a QR code or deep link for the
// new device to scan.
func (c *Client) InitiatePairing(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if _, err := c.doSigned(ctx, "POST", "/api/pair/initiate", nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// PendingPairing is the not-yet-identified new device's side of the
// handshake: an ephemeral X25519 key pair it has submitted against token
// but has not yet received a transfer blob for.
type PendingPairing struct {
	Token string
	eph   domain.X25519KeyPair
}

// SubmitPairing is called by the new device's Client, which has no
// identity of its own yet and so cannot sign anything: it generates an
// ephemeral X25519 key pair and submits the public half against token,
// admission controlled entirely by possession of the token (§4.5's
// public-endpoint list).
func (c *Client) SubmitPairing(ctx context.Context, token string) (*PendingPairing, error) {
	eph, err := cryptocore.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("moltclient: generate pairing ephemeral key: %w", err)
	}
	req := struct {
		Token                    string `json:"token"`
		DeviceEphemeralPublicKey string `json:"deviceEphemeralPublicKey"`
	}{Token: token, DeviceEphemeralPublicKey: b64(eph.Public[:])}
	if _, err := c.doPublic(ctx, "POST", "/api/pair/submit", req, nil); err != nil {
		return nil, err
	}
	return &PendingPairing{Token: token, eph: eph}, nil
}

// ClaimPairing is called by the already-paired device, authenticated as
// the identity being paired. It fetches the new device's submitted
// ephemeral key, encrypts a transfer payload containing this identity's
// private key material and, for each conversation in conversationIDs
// that has sending state, the initial chain key of its current sending
// generation (§4.6), and posts the result for the new device to retrieve.
func (c *Client) ClaimPairing(ctx context.Context, token string, conversationIDs []string) error {
	if c.identity == nil {
		return ErrNoIdentity
	}
	var status pairingStatusResponse
	if _, err := c.doPublic(ctx, "GET", "/api/pair/status/"+token, nil, &status); err != nil {
		return err
	}
	if status.Status != "awaiting_claim" {
		return fmt.Errorf("moltclient: pairing request is %q, expected awaiting_claim", status.Status)
	}
	deviceEph, err := decode32(status.DeviceEphemeralPublicKey)
	if err != nil {
		return fmt.Errorf("moltclient: decode device ephemeral key: %w", err)
	}

	chains := make(map[string]string, len(conversationIDs))
	for _, convID := range conversationIDs {
		ck, version, ok, err := c.Manager.CurrentInitialChainKey(ctx, convID)
		if err != nil {
			return fmt.Errorf("moltclient: load sending state for %s: %w", convID, err)
		}
		if !ok {
			continue
		}
		_ = version // the transfer payload carries only the initial chain key, see senderchain.Manager.Adopt
		chains[convID] = b64(ck[:])
	}

	payload := pairing.Payload{
		IdentityPrivate:     b64(c.identity.IdentityPrivate[:]),
		SignedPreKeyPrivate: b64(c.identity.SignedPreKey.Private[:]),
		SignedPreKeyPublic:  b64(c.identity.SignedPreKey.Public[:]),
		InitialChainKeys:    chains,
	}
	senderEph, blob, err := pairing.Encrypt(deviceEph, payload)
	if err != nil {
		return fmt.Errorf("moltclient: encrypt pairing transfer: %w", err)
	}

	req := struct {
		SenderEphemeralPublicKey string `json:"senderEphemeralPublicKey"`
		EncryptionKeysBlob       string `json:"encryptionKeysBlob"`
	}{
		SenderEphemeralPublicKey: b64(senderEph[:]),
		EncryptionKeysBlob:       base64.StdEncoding.EncodeToString(blob),
	}
	_, err = c.doSigned(ctx, "POST", "/api/pair/"+token+"/claim", req, nil)
	return err
}

// CompletePairing is called by the new device after ClaimPairing has run
// on the pairing device: it fetches the claimed transfer blob, decrypts
// it with the ephemeral private key from SubmitPairing, and adopts the
// transferred identity key material and every transferred conversation's
// sending chain (senderchain.Manager.Adopt), making this client able to
// send and receive as the paired identity.
func (c *Client) CompletePairing(ctx context.Context, pending *PendingPairing, moltbotID string) error {
	var status pairingStatusResponse
	if _, err := c.doPublic(ctx, "GET", "/api/pair/status/"+pending.Token, nil, &status); err != nil {
		return err
	}
	if status.Status != "claimed" {
		return ErrPairingNotClaimed
	}
	senderEph, err := decode32(status.SenderEphemeralPublicKey)
	if err != nil {
		return fmt.Errorf("moltclient: decode sender ephemeral key: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(status.EncryptionKeysBlob)
	if err != nil {
		return fmt.Errorf("moltclient: decode encryption keys blob: %w", err)
	}
	payload, err := pairing.Decrypt(pending.eph.Private, senderEph, blob)
	if err != nil {
		return fmt.Errorf("moltclient: decrypt pairing transfer: %w", err)
	}

	id := &domain.Identity{MoltbotID: moltbotID}
	if err := decodeFixedInto(payload.IdentityPrivate, id.IdentityPrivate[:]); err != nil {
		return fmt.Errorf("moltclient: decode transferred identity private key: %w", err)
	}
	if err := decodeFixedInto(payload.SignedPreKeyPrivate, id.SignedPreKey.Private[:]); err != nil {
		return fmt.Errorf("moltclient: decode transferred signed prekey private key: %w", err)
	}
	if err := decodeFixedInto(payload.SignedPreKeyPublic, id.SignedPreKey.Public[:]); err != nil {
		return fmt.Errorf("moltclient: decode transferred signed prekey public key: %w", err)
	}
	// An Ed25519 private key is its 32-byte seed followed by the 32-byte
	// public key (crypto/ed25519's expanded form); the pairing payload
	// doesn't carry the public half separately since it's recoverable
	// from this tail.
	copy(id.IdentityPublic[:], id.IdentityPrivate[32:])

	if err := c.idStore.Save(ctx, id); err != nil {
		return fmt.Errorf("moltclient: persist paired identity: %w", err)
	}
	c.identity = id

	for convID, encoded := range payload.InitialChainKeys {
		ckBytes, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("moltclient: decode transferred chain key for %s: %w", convID, err)
		}
		if len(ckBytes) != 32 {
			return fmt.Errorf("moltclient: transferred chain key for %s has wrong length %d", convID, len(ckBytes))
		}
		var ck domain.ChainKey
		copy(ck[:], ckBytes)
		if err := c.Manager.Adopt(ctx, convID, ck); err != nil {
			return fmt.Errorf("moltclient: adopt sending state for %s: %w", convID, err)
		}
	}
	return nil
}

func decodeFixedInto(s string, dst []byte) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d decoded bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
