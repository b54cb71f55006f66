package relay

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/relaystore"
)

// registerIdentityRequest mirrors §4.1's registration submission: the
// client has already generated its Ed25519 identity pair, its X25519
// signed prekey, signed the SPK public bytes, and generated its one-time
// prekey pool locally. Only public halves cross the wire.
type registerIdentityRequest struct {
	IdentityPublicKey     string   `json:"publicKey"`
	SignedPreKey          string   `json:"signedPreKey"`
	SignedPreKeySignature string   `json:"preKeySignature"`
	OneTimePreKeys        []string `json:"oneTimePreKeys"`
}

type identityBundleResponse struct {
	ID                    string   `json:"id"`
	IdentityPublicKey     string   `json:"publicKey"`
	SignedPreKey          string   `json:"signedPreKey"`
	SignedPreKeySignature string   `json:"preKeySignature"`
	OneTimePreKeyCount    int      `json:"oneTimePreKeyCount,omitempty"`
}

func (d *Deps) handleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req registerIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	identityPub, err := decodeFixed32(req.IdentityPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid publicKey")
		return
	}
	spkPub, err := decodeFixed32(req.SignedPreKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signedPreKey")
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.SignedPreKeySignature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid preKeySignature")
		return
	}
	var identityPubKey domain.Ed25519Public
	copy(identityPubKey[:], identityPub[:])
	var spkPubKey domain.X25519Public
	copy(spkPubKey[:], spkPub[:])
	if !cryptocore.VerifySignedPreKey(identityPubKey, spkPubKey, sig) {
		writeError(w, http.StatusBadRequest, "signed prekey signature does not verify against publicKey")
		return
	}

	id, err := relaystore.NewIdentityID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint identity id")
		return
	}

	rec := relaystore.Identity{
		ID:                    id,
		IdentityPublicKey:     req.IdentityPublicKey,
		SignedPreKeyPublicKey: req.SignedPreKey,
		SignedPreKeySignature: req.SignedPreKeySignature,
	}
	if err := d.Store.Identities().Create(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist identity")
		return
	}
	if err := d.Store.OneTimePreKeys().AddBatch(r.Context(), id, req.OneTimePreKeys); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist one-time prekeys")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"identity": identityBundleResponse{
			ID:                    id,
			IdentityPublicKey:     rec.IdentityPublicKey,
			SignedPreKey:          rec.SignedPreKeyPublicKey,
			SignedPreKeySignature: rec.SignedPreKeySignature,
		},
	})
}

func (d *Deps) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := d.Store.Identities().Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "identity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load identity")
		return
	}
	writeJSON(w, http.StatusOK, identityBundleResponse{
		ID:                    rec.ID,
		IdentityPublicKey:     rec.IdentityPublicKey,
		SignedPreKey:          rec.SignedPreKeyPublicKey,
		SignedPreKeySignature: rec.SignedPreKeySignature,
	})
}

type appendPreKeysRequest struct {
	OneTimePreKeys []string `json:"oneTimePreKeys"`
}

// handleAppendPreKeys lets an identity replenish its one-time prekey pool
// (§4.1 — "client may upload additional one-time pre-key publics; the
// relay appends"). The route requires :id == X-Moltbot-Id.
func (d *Deps) handleAppendPreKeys(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelf(r, id); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	var req appendPreKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := d.Store.Identities().Get(r.Context(), id); err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "identity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load identity")
		return
	}
	if err := d.Store.OneTimePreKeys().AddBatch(r.Context(), id, req.OneTimePreKeys); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist one-time prekeys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": len(req.OneTimePreKeys)})
}

// handleConsumePreKey returns at most one one-time prekey, consumed
// atomically (§4.1, §6). The core does not currently use these for
// messaging — the wrap in C4 only ever addresses the SPK — but the relay
// must still serve them for a future X3DH upgrade (§9 open item 3).
func (d *Deps) handleConsumePreKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := d.Store.OneTimePreKeys().ConsumeNext(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to consume one-time prekey")
		return
	}
	if key == nil {
		writeJSON(w, http.StatusOK, map[string]any{"oneTimePreKey": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"oneTimePreKey": key.PublicKey})
}

func decodeFixed32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errors.New("expected 32 decoded bytes")
	}
	copy(out[:], b)
	return out, nil
}
