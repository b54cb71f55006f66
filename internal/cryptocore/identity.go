package cryptocore

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/keikumata/moltdm/internal/domain"
)

// GenerateEd25519 returns a new Ed25519 signing key pair for use as an
// identity key.
func GenerateEd25519() (domain.Ed25519Public, domain.Ed25519Private, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.Ed25519Public{}, domain.Ed25519Private{}, err
	}
	var pubOut domain.Ed25519Public
	var privOut domain.Ed25519Private
	copy(pubOut[:], pub)
	copy(privOut[:], priv)
	return pubOut, privOut, nil
}

// SignSignedPreKey signs the raw 32-byte X25519 public bytes of a signed
// prekey with the identity's Ed25519 private key (§4.1).
func SignSignedPreKey(identityPriv domain.Ed25519Private, spkPub domain.X25519Public) []byte {
	return ed25519.Sign(ed25519.PrivateKey(identityPriv[:]), spkPub[:])
}

// VerifySignedPreKey checks an SPK signature against an identity public key.
func VerifySignedPreKey(identityPub domain.Ed25519Public, spkPub domain.X25519Public, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(identityPub[:]), spkPub[:], sig)
}

// Sign produces an Ed25519 signature over an arbitrary message, used by
// the request authenticator (C5) to sign canonical request strings.
func Sign(identityPriv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(identityPriv[:]), msg)
}

// Verify checks an Ed25519 signature with constant-time comparison
// (provided by crypto/ed25519.Verify).
func Verify(identityPub domain.Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(identityPub[:]), msg, sig)
}
