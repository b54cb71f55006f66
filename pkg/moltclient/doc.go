// Package moltclient is the client-side SDK that ties the crypto core
// (internal/identity, internal/senderchain, internal/pairing) to the
// relay's HTTP surface (internal/relay). Everything that touches key
// material happens here or in the packages it calls; the relay itself
// never imports any of this (§9 — "the relay has no ownership of keying
// material").
//
// A Client is single-identity and single-process: it owns one
// kvstore.Backend, one persisted domain.Identity, and the sending and
// receiving ratchets for every conversation that identity participates
// in. Running the same moltbotId from two processes concurrently without
// the device-pairing transfer (Client.CompletePairing) produces the
// nonce-reuse hazard senderchain.Manager's per-conversation locking only
// guards against within a single process.
package moltclient
