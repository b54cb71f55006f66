package pairing

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
)

// transferSalt and transferInfo parallel C4's wrap constants but use a
// distinct info string so a pairing transfer key can never collide with a
// sender-key wrap key even if the same ephemeral pair were ever reused
// (it shouldn't be, but the domain separation costs nothing).
var (
	transferSalt = make([]byte, 32)
	transferInfo = []byte("moltdm-device-pairing")
)

// Encrypt wraps payload to recipientEph (the new device's ephemeral
// X25519 public key, submitted via POST /pair/submit), returning the
// sender's own fresh ephemeral public key and the AEAD blob. Both values
// are stored in PairingRequest for the new device to retrieve and decrypt.
func Encrypt(recipientEph domain.X25519Public, payload Payload) (domain.X25519Public, []byte, error) {
	eph, err := cryptocore.GenerateX25519()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	shared, err := cryptocore.DH(eph.Private, recipientEph)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	key, err := deriveTransferKey(shared)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	plaintext, err := payload.marshal()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	blob, err := cryptocore.SealMessage(key, plaintext)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	return eph.Public, blob, nil
}

// Decrypt reverses Encrypt using the new device's ephemeral private key
// and the sender's ephemeral public key.
func Decrypt(recipientPriv domain.X25519Private, senderEph domain.X25519Public, blob []byte) (Payload, error) {
	shared, err := cryptocore.DH(recipientPriv, senderEph)
	if err != nil {
		return Payload{}, err
	}
	key, err := deriveTransferKey(shared)
	if err != nil {
		return Payload{}, err
	}
	plaintext, err := cryptocore.OpenMessage(key, blob)
	if err != nil {
		return Payload{}, err
	}
	return unmarshalPayload(plaintext)
}

func deriveTransferKey(shared [32]byte) (domain.ChainKey, error) {
	r := hkdf.New(sha256.New, shared[:], transferSalt, transferInfo)
	var out domain.ChainKey
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return domain.ChainKey{}, err
	}
	return out, nil
}
