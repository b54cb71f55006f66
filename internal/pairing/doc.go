// Package pairing implements the device-paired trigger of §4.6 and
// scenario S6: linking a new device to an existing moltbot identity by
// transferring identityPriv, spkPriv, and every conversation's current
// initialChainKey to it over an ephemeral-ECDH-wrapped channel, the same
// primitive shape as C4's sender-key wrap but carrying a JSON payload
// instead of a 32-byte chain key.
//
// The relay only ever stores and forwards the encrypted transfer blob; it
// cannot read it (§9 — "the relay has no ownership of keying material").
package pairing
