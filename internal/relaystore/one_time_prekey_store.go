package relaystore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OneTimePreKeyStore struct{ db *gorm.DB }

func (s *OneTimePreKeyStore) AddBatch(ctx context.Context, identityID string, publicKeys []string) error {
	if len(publicKeys) == 0 {
		return nil
	}
	rows := make([]OneTimePreKey, 0, len(publicKeys))
	for _, pk := range publicKeys {
		rows = append(rows, OneTimePreKey{IdentityID: identityID, PublicKey: pk})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// ConsumeNext atomically claims and returns the oldest unconsumed one-time
// prekey for identityID, or nil if the pool is empty (§6 — "consume one
// one-time pre-key atomically if any").
func (s *OneTimePreKeyStore) ConsumeNext(ctx context.Context, identityID string) (*OneTimePreKey, error) {
	var key OneTimePreKey
	found := false
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("identity_id = ? AND consumed_at IS NULL", identityID).
			Order("created_at ASC, id ASC")
		if err := q.First(&key).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		return tx.Model(&OneTimePreKey{}).
			Where("id = ?", key.ID).
			Update("consumed_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	key.ConsumedAt = &now
	return &key, nil
}
