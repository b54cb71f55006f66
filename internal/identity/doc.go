// Package identity implements C1, the Identity Store: generation,
// persistence, and replenishment of a client's long-term Ed25519 identity
// key, X25519 signed prekey, and one-time prekey pool (§4.1).
package identity
