package relaystore

import (
	"context"

	"gorm.io/gorm"
)

type MembershipEventStore struct{ db *gorm.DB }

// Append records a membership change. The conversations handler calls
// this; clients read the events back through List and react to Kind
// themselves — the relay itself never rotates anything (§4.6).
func (s *MembershipEventStore) Append(ctx context.Context, ev MembershipEvent) error {
	return s.db.WithContext(ctx).Create(&ev).Error
}

// List returns every membership event for conversationID with an id
// greater than afterID, ordered so a client polling with a persisted
// cursor (the highest id it has already applied) only ever sees events
// it has not yet reacted to. Pass afterID 0 for the full history.
func (s *MembershipEventStore) List(ctx context.Context, conversationID string, afterID uint) ([]MembershipEvent, error) {
	var evs []MembershipEvent
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND id > ?", conversationID, afterID).
		Order("id ASC").
		Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}
