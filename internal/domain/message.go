package domain

import "time"

// Message is the wire form a client posts to, and reads from, the relay.
// Ciphertext and the entries of EncryptedSenderKeys are base64 strings on
// the wire (json.RawMessage-free here; the relay transport layer owns
// marshalling) but are carried decoded within the crypto core.
type Message struct {
	ID                  string
	ConversationID      string
	FromID              string
	CreatedAt           time.Time
	ReplyTo             *string
	ExpiresAt           *time.Time
	Ciphertext          []byte // nonce(12) || AES-256-GCM ciphertext || tag(16)
	SenderKeyVersion    uint64
	MessageIndex        uint64
	EncryptedSenderKeys map[string][]byte // recipient moltbotId -> ephPub(32) || nonce(12) || aead(chainKey)
}

// DecryptedMessage is what the receiving side's Receive operation produces.
type DecryptedMessage struct {
	ID             string
	ConversationID string
	FromID         string
	CreatedAt      time.Time
	Plaintext      []byte
}
