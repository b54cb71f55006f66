package pairing

import "encoding/json"

// Payload is the key material a new device needs to decrypt incoming
// wraps and to take over sending under the correct version (§4.6 —
// "copies of identityPriv, spkPriv, and the current initialChainKey for
// every conversation"). Fields are base64; this is marshalled, encrypted,
// and carried inside the relay's opaque PairingRequest.EncryptionKeysBlob.
type Payload struct {
	IdentityPrivate      string            `json:"identityPrivate"`
	SignedPreKeyPrivate  string            `json:"signedPreKeyPrivate"`
	SignedPreKeyPublic   string            `json:"signedPreKeyPublic"`
	InitialChainKeys     map[string]string `json:"initialChainKeys"` // conversationId -> base64(initialChainKey)
}

func (p Payload) marshal() ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
