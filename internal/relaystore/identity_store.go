package relaystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdentityStore struct{ db *gorm.DB }

// NewIdentityID mints a relay-assigned opaque id of the form
// "moltbot_<12 hex chars>" (§6).
func NewIdentityID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "moltbot_" + hex.EncodeToString(b), nil
}

func (s *IdentityStore) Create(ctx context.Context, id Identity) error {
	return s.db.WithContext(ctx).Create(&id).Error
}

func (s *IdentityStore) Get(ctx context.Context, id string) (*Identity, error) {
	var rec Identity
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateSignedPreKey replaces the published signed prekey and its
// signature, used when a client rotates its SPK independently of the
// sender-chain rotation in §4.2 (unrelated mechanisms that share a name).
func (s *IdentityStore) UpdateSignedPreKey(ctx context.Context, id, publicKey, signature string) error {
	res := s.db.WithContext(ctx).Model(&Identity{}).
		Where("id = ?", id).
		Clauses(clause.Returning{}).
		Updates(map[string]any{
			"signed_pre_key_public_key": publicKey,
			"signed_pre_key_signature":  signature,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *IdentityStore) PublicKeyLookup(ctx context.Context, id string) (string, bool) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", false
	}
	return rec.IdentityPublicKey, true
}
