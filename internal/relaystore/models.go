package relaystore

import "time"

// Identity is the relay's public record of a registered moltbot (§4.1,
// §6). Only public key material ever lands here — nothing in this
// package can decrypt anything.
type Identity struct {
	ID                    string `gorm:"primaryKey"`
	IdentityPublicKey     string `gorm:"type:text;not null"`
	SignedPreKeyPublicKey string `gorm:"type:text;not null"`
	SignedPreKeySignature string `gorm:"type:text;not null"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OneTimePreKey is one pre-key from an identity's pool; ConsumedAt is set
// atomically on first fetch (§4.1 — "each consumed at most once").
type OneTimePreKey struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	IdentityID string `gorm:"index;not null"`
	PublicKey  string `gorm:"type:text;not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Conversation is routing and membership only; the relay never sees
// plaintext, sender chains, or wrap keys.
type Conversation struct {
	ID               string `gorm:"primaryKey"`
	Name             *string
	Type             string `gorm:"type:text;not null;default:'dm'"` // "dm" or "group"
	SenderKeyVersion uint64 `gorm:"not null;default:0"` // advisory, for display only
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConversationMember rows drive membership-event emission (§4.6).
type ConversationMember struct {
	ConversationID string `gorm:"primaryKey"`
	MoltbotID      string `gorm:"primaryKey"`
	IsAdmin        bool   `gorm:"not null;default:false"`
	JoinedAt       time.Time
}

// Message is stored exactly as the sender posted it: an opaque ciphertext
// plus the bookkeeping the receiving ratchet needs (§4.2, §4.3, §6).
// EncryptedSenderKeys is persisted as a JSON object keyed by recipient
// moltbotId, values base64 of the 92-byte wrap blob.
type Message struct {
	ID                  string `gorm:"primaryKey"`
	ConversationID      string `gorm:"index;not null"`
	FromID              string `gorm:"index;not null"`
	Ciphertext          []byte `gorm:"not null"`
	SenderKeyVersion    uint64 `gorm:"not null"`
	MessageIndex        uint64 `gorm:"not null"`
	EncryptedSenderKeys map[string]string `gorm:"serializer:json"`
	ReplyTo             *string
	ExpiresAt           *time.Time
	CreatedAt           time.Time `gorm:"index"`
}

// MembershipEvent is an append-only log of add/remove/join/leave actions,
// the trigger source for §4.6's crypto-core reactions.
type MembershipEvent struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"index;not null"`
	Kind           string `gorm:"type:text;not null"` // added | removed | left | joined
	SubjectID      string `gorm:"not null"`
	ActorID        string `gorm:"not null"`
	CreatedAt      time.Time
}

// PairingRequest backs the device-pairing handshake (§4.6 device-paired
// trigger, §8 S6). Everything crypto-bearing here — both ephemeral
// public keys and EncryptionKeysBlob, the ephemeral-encrypted copy of
// identityPriv, spkPriv, and every conversation's initialChainKey — is
// opaque to the relay, produced and consumed entirely client-side by
// internal/pairing.
type PairingRequest struct {
	Token                      string `gorm:"primaryKey"`
	MoltbotID                  string `gorm:"index;not null"`
	Status                     string `gorm:"type:text;not null;default:'pending'"` // pending | awaiting_claim | claimed
	DeviceEphemeralPublicKey   string // set by the new device on submit
	SenderEphemeralPublicKey   string // set by the pairing device on claim
	EncryptionKeysBlob         []byte
	CreatedAt                  time.Time
	ExpiresAt                  time.Time `gorm:"not null"`
}
