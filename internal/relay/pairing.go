package relay

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keikumata/moltdm/internal/pairing"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

// handleInitiatePairing mints a 5-minute pairing token scoped to the
// authenticated identity (§4.6, §5 — "Pairing token: 5 minutes from
// creation"). The client turns the token into a QR code or deep link for
// the new device to scan.
func (d *Deps) handleInitiatePairing(w http.ResponseWriter, r *http.Request) {
	self := reqauth.MoltbotIDFromContext(r.Context())
	token, err := d.Pairing.Issue(self)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue pairing token")
		return
	}
	req := relaystore.PairingRequest{
		Token:     token,
		MoltbotID: self,
		Status:    "pending",
		ExpiresAt: time.Now().UTC().Add(pairing.DefaultTTL),
	}
	if err := d.Store.Pairing().Create(r.Context(), req); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist pairing request")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

type submitPairingRequest struct {
	Token                    string `json:"token"`
	DeviceEphemeralPublicKey string `json:"deviceEphemeralPublicKey"`
}

// handleSubmitPairing is called by the new, not-yet-identified device:
// it has no signed channel to use yet, so this endpoint is public and
// admission-controlled entirely by possession of a valid token (§4.5's
// public-endpoint list).
func (d *Deps) handleSubmitPairing(w http.ResponseWriter, r *http.Request) {
	var req submitPairingRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" || req.DeviceEphemeralPublicKey == "" {
		writeError(w, http.StatusBadRequest, "missing token or deviceEphemeralPublicKey")
		return
	}
	if _, err := d.Pairing.Verify(req.Token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired pairing token")
		return
	}
	if err := d.Store.Pairing().Submit(r.Context(), req.Token, req.DeviceEphemeralPublicKey); err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "pairing request not found or already submitted")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record submission")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type pairingStatusResponse struct {
	Status                   string `json:"status"`
	DeviceEphemeralPublicKey string `json:"deviceEphemeralPublicKey,omitempty"`
	SenderEphemeralPublicKey string `json:"senderEphemeralPublicKey,omitempty"`
	EncryptionKeysBlob       string `json:"encryptionKeysBlob,omitempty"`
}

// handlePairingStatus is polled both by the pairing device (to learn the
// new device's ephemeral key once submitted) and by the new device
// itself (to learn once the blob has been claimed for it). Public per
// §4.5: the token is the only secret in play, and bearing it is itself
// proof of participation in this pairing flow.
func (d *Deps) handlePairingStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	rec, err := d.Store.Pairing().Get(r.Context(), token)
	if err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "pairing request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load pairing request")
		return
	}
	resp := pairingStatusResponse{
		Status:                   rec.Status,
		DeviceEphemeralPublicKey: rec.DeviceEphemeralPublicKey,
		SenderEphemeralPublicKey: rec.SenderEphemeralPublicKey,
	}
	if rec.Status == "claimed" {
		resp.EncryptionKeysBlob = base64Encode(rec.EncryptionKeysBlob)
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimPairingRequest struct {
	SenderEphemeralPublicKey string `json:"senderEphemeralPublicKey"`
	EncryptionKeysBlob       string `json:"encryptionKeysBlob"`
}

// handleClaimPairing is called by the pairing device itself — already
// authenticated as the identity being paired — once it has locally run
// pairing.Encrypt against the new device's submitted ephemeral key.
func (d *Deps) handleClaimPairing(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	self := reqauth.MoltbotIDFromContext(r.Context())

	rec, err := d.Store.Pairing().Get(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusNotFound, "pairing request not found")
		return
	}
	if rec.MoltbotID != self {
		writeError(w, http.StatusForbidden, "pairing token does not belong to this identity")
		return
	}

	var req claimPairingRequest
	if err := decodeJSON(r, &req); err != nil || req.SenderEphemeralPublicKey == "" || req.EncryptionKeysBlob == "" {
		writeError(w, http.StatusBadRequest, "missing senderEphemeralPublicKey or encryptionKeysBlob")
		return
	}
	blob, err := base64Decode(req.EncryptionKeysBlob)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid encryptionKeysBlob encoding")
		return
	}
	if err := d.Store.Pairing().Claim(r.Context(), token, req.SenderEphemeralPublicKey, blob); err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusConflict, "pairing request not awaiting claim or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record claim")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
