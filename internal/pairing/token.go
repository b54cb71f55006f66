package pairing

import (
	"errors"
	"time"

	"github.com/keikumata/moltdm/internal/jwtsigner"
)

// DefaultTTL is the pairing token lifetime (§5 — "Pairing token: 5 minutes
// from creation").
const DefaultTTL = 5 * time.Minute

// TokenIssuer mints and verifies pairing tokens on the relay's own EdDSA
// key — there is exactly one issuer and one verifier, both the relay
// process, so there is no JWKS distribution step.
type TokenIssuer struct {
	signer *jwtsigner.Signer
}

func NewTokenIssuer(signer *jwtsigner.Signer) *TokenIssuer {
	return &TokenIssuer{signer: signer}
}

// Issue mints a token scoped to moltbotID, the identity requesting that a
// new device be paired to it.
func (t *TokenIssuer) Issue(moltbotID string) (string, error) {
	return t.signer.Sign(moltbotID, DefaultTTL, map[string]any{"typ": "pairing"})
}

// Verify returns the moltbotID a token was issued for, failing closed on
// expiry, bad signature, or wrong token type.
func (t *TokenIssuer) Verify(token string) (string, error) {
	sub, claims, err := t.signer.Verify(token)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != "pairing" {
		return "", errors.New("pairing: wrong token type")
	}
	return sub, nil
}
