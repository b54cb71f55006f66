// Package jwtsigner issues and verifies the short-lived EdDSA tokens that
// back the device-pairing handshake (§4.6, §8 S6). It is not an OAuth/JWKS
// token issuer here — there is no external verifier, so there is no JWKS
// to publish; the relay that signs a pairing token is the same process
// that verifies it.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer holds an Ed25519 keypair for issuing and verifying pairing tokens.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	KeyID   string
	Issuer  string
}

// NewFromBase64 creates a signer from base64-encoded ed25519 private key
// bytes. If privB64 is empty, it generates an ephemeral key (fine for
// local dev; a restart invalidates any pairing token in flight).
func NewFromBase64(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, priv, _ = ed25519.GenerateKey(rand.Reader)
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{private: priv, public: pub, KeyID: kid, Issuer: iss}, nil
}

// Sign issues a JWT for subject `sub` with TTL and extra claims.
func (s *Signer) Sign(sub string, ttl time.Duration, claims map[string]any) (string, error) {
	now := time.Now()
	std := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	m := jwt.MapClaims{}
	for k, v := range claims {
		m[k] = v
	}
	m["iss"] = std.Issuer
	m["sub"] = std.Subject
	m["iat"] = std.IssuedAt.Unix()
	m["exp"] = std.ExpiresAt.Unix()

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	t.Header["kid"] = s.KeyID
	return t.SignedString(s.private)
}

// Verify checks a token's EdDSA signature, issuer, and expiry, returning
// its subject and full claim set. The pairing token's 5-minute TTL
// (§5 — "Pairing token: 5 minutes from creation") is enforced entirely by
// the standard "exp" claim check here; callers don't re-derive it.
func (s *Signer) Verify(tokenString string) (string, jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.public, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithIssuer(s.Issuer))
	if err != nil || !token.Valid {
		return "", nil, errors.New("jwtsigner: invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, errors.New("jwtsigner: invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", nil, errors.New("jwtsigner: missing subject")
	}
	return sub, claims, nil
}
