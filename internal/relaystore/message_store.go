package relaystore

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *MessageStore) Create(ctx context.Context, m Message) error {
	return s.db.WithContext(ctx).Create(&m).Error
}

// List returns messages for conversationID created strictly after since,
// oldest first, tie-broken by id — the ordering guarantee of §5 ("the
// relay preserves this order in both storage ... and delivery"). Messages
// whose ExpiresAt has passed are filtered out (§5).
func (s *MessageStore) List(ctx context.Context, conversationID string, since time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var msgs []Message
	q := s.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at > ?", conversationID, since).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Order("created_at ASC, id ASC").
		Limit(limit)
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// PurgeExpired hard-deletes messages whose ExpiresAt has passed, per §5's
// "periodically hard-deleted" disappearing-message policy.
func (s *MessageStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC()).
		Delete(&Message{})
	return res.RowsAffected, res.Error
}
