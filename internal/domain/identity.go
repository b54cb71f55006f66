package domain

// Identity is a client's long-term key material, persisted in exactly one
// blob per moltbot identity (§6, client-side persistence).
type Identity struct {
	MoltbotID        string
	IdentityPublic   Ed25519Public
	IdentityPrivate  Ed25519Private
	SignedPreKey     X25519KeyPair
	SignedPreKeySig  []byte
	OneTimePreKeys   []X25519KeyPair
}

// Decrypting reports whether the identity carries the signed prekey private
// half. An identity without it must be rejected at load time (§4.1).
func (id *Identity) Decrypting() bool {
	return id != nil && id.SignedPreKey.Private != X25519Private{}
}

// PublishedIdentity is the public view the relay stores and serves, plus the
// Ed25519 signature over the signed prekey's raw public bytes.
type PublishedIdentity struct {
	MoltbotID       string
	IdentityKey     Ed25519Public
	SignedPreKey    X25519Public
	PreKeySignature []byte
	OneTimePreKeys  []X25519Public
}

// X25519KeyPair is a full Curve25519 key pair.
type X25519KeyPair struct {
	Public  X25519Public
	Private X25519Private
}
