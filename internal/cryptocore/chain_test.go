package cryptocore

import (
	"crypto/rand"
	"testing"

	"github.com/keikumata/moltdm/internal/domain"
)

func randomChainKey(t *testing.T) domain.ChainKey {
	t.Helper()
	var ck domain.ChainKey
	if _, err := rand.Read(ck[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return ck
}

// Property 1 (§8): messageKey and nextChainKey are deterministic, 32
// bytes, and mutually distinct from each other and from the input.
func TestChainDerivationsAreDeterministicAndDistinct(t *testing.T) {
	for i := 0; i < 256; i++ {
		ck := randomChainKey(t)

		mk1 := MessageKey(ck)
		mk2 := MessageKey(ck)
		if mk1 != mk2 {
			t.Fatalf("MessageKey not deterministic")
		}

		nk1 := NextChainKey(ck)
		nk2 := NextChainKey(ck)
		if nk1 != nk2 {
			t.Fatalf("NextChainKey not deterministic")
		}

		if mk1 == nk1 {
			t.Fatalf("messageKey(k) == nextChainKey(k)")
		}
		if mk1 == ck {
			t.Fatalf("messageKey(k) == k")
		}
		if nk1 == ck {
			t.Fatalf("nextChainKey(k) == k")
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := randomChainKey(t)
	plaintext := []byte("hello from a property test")

	ct, err := SealMessage(key, plaintext)
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	if len(ct) < nonceSize {
		t.Fatalf("ciphertext shorter than nonce")
	}

	pt, err := OpenMessage(key, ct)
	if err != nil {
		t.Fatalf("OpenMessage: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestOpenMessageRejectsBitFlip(t *testing.T) {
	key := randomChainKey(t)
	ct, err := SealMessage(key, []byte("attack at dawn"))
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	ct[len(ct)-1] ^= 0x01

	if _, err := OpenMessage(key, ct); err != domain.ErrCryptoIntegrity {
		t.Fatalf("expected ErrCryptoIntegrity, got %v", err)
	}
}
