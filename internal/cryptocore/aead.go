package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"github.com/keikumata/moltdm/internal/domain"
)

const nonceSize = 12

var errCiphertextTooShort = errors.New("cryptocore: ciphertext shorter than nonce")

// SealMessage encrypts plaintext under a message key, producing
// nonce(12) || AES-256-GCM-ciphertext || tag(16), matching the wire format
// in §6. The nonce is fresh random bytes on every call.
func SealMessage(key domain.ChainKey, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ct...), nil
}

// OpenMessage decrypts a nonce || ciphertext || tag blob produced by
// SealMessage. A tag failure returns domain.ErrCryptoIntegrity.
func OpenMessage(key domain.ChainKey, blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, errCiphertextTooShort
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, ct := blob[:nonceSize], blob[nonceSize:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, domain.ErrCryptoIntegrity
	}
	return pt, nil
}

func newGCM(key domain.ChainKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
