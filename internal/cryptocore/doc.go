// Package cryptocore implements the primitive derivations behind MoltDM's
// Sender Keys scheme: the chain-key ratchet, the AES-256-GCM message AEAD,
// the X25519/HKDF/AEAD sender-key wrap, and Ed25519 identity operations.
// Nothing here owns conversation or membership state — that lives in
// internal/senderchain. Labels, salts, and info strings are fixed by the
// wire format and must never change.
package cryptocore
