package relaystore

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type PairingStore struct{ db *gorm.DB }

func (s *PairingStore) Create(ctx context.Context, req PairingRequest) error {
	return s.db.WithContext(ctx).Create(&req).Error
}

func (s *PairingStore) Get(ctx context.Context, token string) (*PairingRequest, error) {
	var rec PairingRequest
	if err := s.db.WithContext(ctx).First(&rec, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Submit records the new device's ephemeral public key against a
// pending pairing token, transitioning it to awaiting_claim so the
// pairing device knows a recipient is waiting.
func (s *PairingStore) Submit(ctx context.Context, token, deviceEphemeralPublicKey string) error {
	res := s.db.WithContext(ctx).Model(&PairingRequest{}).
		Where("token = ? AND status = ? AND expires_at > ?", token, "pending", time.Now().UTC()).
		Updates(map[string]any{
			"status":                      "awaiting_claim",
			"device_ephemeral_public_key": deviceEphemeralPublicKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Claim attaches the pairing device's own ephemeral public key and the
// encrypted key-transfer blob, marking the request claimed (§4.6, §8
// S6). Fails if the request isn't awaiting_claim or has expired.
func (s *PairingStore) Claim(ctx context.Context, token, senderEphemeralPublicKey string, blob []byte) error {
	res := s.db.WithContext(ctx).Model(&PairingRequest{}).
		Where("token = ? AND status = ? AND expires_at > ?", token, "awaiting_claim", time.Now().UTC()).
		Updates(map[string]any{
			"status":                     "claimed",
			"sender_ephemeral_public_key": senderEphemeralPublicKey,
			"encryption_keys_blob":        blob,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
