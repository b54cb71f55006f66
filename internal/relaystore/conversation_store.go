package relaystore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationStore struct{ db *gorm.DB }

func (s *ConversationStore) Create(ctx context.Context, conv Conversation, memberIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		members := make([]ConversationMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, ConversationMember{ConversationID: conv.ID, MoltbotID: id})
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Create(&members).Error
	})
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// Rename updates the conversation's display name.
func (s *ConversationStore) Rename(ctx context.Context, id string, name *string) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes a conversation and every row that cascades from it
// (§6 — "Cascade deletes follow the conversation"): members, messages,
// and membership events.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&ConversationMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&MembershipEvent{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Conversation{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (s *ConversationStore) Members(ctx context.Context, id string) ([]ConversationMember, error) {
	var members []ConversationMember
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", id).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (s *ConversationStore) MemberIDs(ctx context.Context, id string) ([]string, error) {
	members, err := s.Members(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.MoltbotID)
	}
	return ids, nil
}

func (s *ConversationStore) AddMember(ctx context.Context, conversationID, moltbotID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ConversationMember{ConversationID: conversationID, MoltbotID: moltbotID}).Error
}

// RemoveMember returns ErrRecordNotFound if moltbotID was not a member,
// so the caller (the conversations handler) knows whether to emit a
// "removed" or "left" membership event.
func (s *ConversationStore) RemoveMember(ctx context.Context, conversationID, moltbotID string) error {
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND moltbot_id = ?", conversationID, moltbotID).
		Delete(&ConversationMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *ConversationStore) SetAdmin(ctx context.Context, conversationID, moltbotID string, isAdmin bool) error {
	res := s.db.WithContext(ctx).Model(&ConversationMember{}).
		Where("conversation_id = ? AND moltbot_id = ?", conversationID, moltbotID).
		Update("is_admin", isAdmin)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// BumpSenderKeyVersion updates the advisory display version; the crypto
// core's authoritative version lives client-side in sender state, this is
// read-model only.
func (s *ConversationStore) BumpSenderKeyVersion(ctx context.Context, id string, version uint64) error {
	return s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Update("sender_key_version", version).Error
}
