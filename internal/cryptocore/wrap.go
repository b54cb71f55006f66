package cryptocore

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/keikumata/moltdm/internal/domain"
)

// wrapInfo and wrapSalt are load-bearing for interop (§4.4): the salt is
// 32 zero bytes and the info string is exactly this ASCII literal.
var (
	wrapSalt = make([]byte, 32)
	wrapInfo = []byte("moltdm-sender-key")
)

// WrapChainKey wraps a 32-byte chain key to recipientSPK using a fresh
// ephemeral X25519 key pair, producing ephemeralPub(32) || nonce(12) ||
// AES-256-GCM(chainKey)(32+16), 92 bytes total — the
// encryptedSenderKeys[recipient] wire value (§4.4, §6).
func WrapChainKey(recipientSPK domain.X25519Public, chainKey domain.ChainKey) ([]byte, error) {
	eph, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := DH(eph.Private, recipientSPK)
	if err != nil {
		return nil, err
	}
	wrapKey, err := deriveWrapKey(shared)
	if err != nil {
		return nil, err
	}
	blob, err := SealMessage(wrapKey, chainKey[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(blob))
	out = append(out, eph.Public[:]...)
	out = append(out, blob...)
	return out, nil
}

// UnwrapChainKey reverses WrapChainKey using the recipient's signed prekey
// private half.
func UnwrapChainKey(spkPriv domain.X25519Private, wrapped []byte) (domain.ChainKey, error) {
	if len(wrapped) < 32 {
		return domain.ChainKey{}, errCiphertextTooShort
	}
	var ephPub domain.X25519Public
	copy(ephPub[:], wrapped[:32])
	blob := wrapped[32:]

	shared, err := DH(spkPriv, ephPub)
	if err != nil {
		return domain.ChainKey{}, err
	}
	wrapKey, err := deriveWrapKey(shared)
	if err != nil {
		return domain.ChainKey{}, err
	}
	pt, err := OpenMessage(wrapKey, blob)
	if err != nil {
		return domain.ChainKey{}, err
	}
	if len(pt) != 32 {
		return domain.ChainKey{}, domain.ErrCryptoIntegrity
	}
	var out domain.ChainKey
	copy(out[:], pt)
	return out, nil
}

// deriveWrapKey implements HKDF-SHA256(ikm=shared, salt=zeros(32),
// info="moltdm-sender-key", L=32).
func deriveWrapKey(shared [32]byte) (domain.ChainKey, error) {
	r := hkdf.New(sha256.New, shared[:], wrapSalt, wrapInfo)
	var out domain.ChainKey
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return domain.ChainKey{}, err
	}
	return out, nil
}
