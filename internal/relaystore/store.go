package relaystore

import "gorm.io/gorm"

// Store is the handle every resource-specific store hangs off of, mirroring
// the per-resource-store-over-one-DB pattern: a single *gorm.DB, wrapped
// per call rather than held as connection-scoped state.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) Identities() *IdentityStore             { return &IdentityStore{db: s.DB} }
func (s *Store) OneTimePreKeys() *OneTimePreKeyStore    { return &OneTimePreKeyStore{db: s.DB} }
func (s *Store) Conversations() *ConversationStore      { return &ConversationStore{db: s.DB} }
func (s *Store) Messages() *MessageStore                { return &MessageStore{db: s.DB} }
func (s *Store) MembershipEvents() *MembershipEventStore { return &MembershipEventStore{db: s.DB} }
func (s *Store) Pairing() *PairingStore                 { return &PairingStore{db: s.DB} }
