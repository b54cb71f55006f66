package cryptocore

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"github.com/keikumata/moltdm/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 key pair, private half clamped
// per RFC 7748.
func GenerateX25519() (domain.X25519KeyPair, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.X25519KeyPair{}, err
	}
	clamp(&priv)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return domain.X25519KeyPair{}, err
	}
	var out domain.X25519KeyPair
	out.Private = priv
	copy(out.Public[:], pub)
	return out, nil
}

// DH computes the X25519 Diffie-Hellman shared secret.
func DH(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	var out [32]byte
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
