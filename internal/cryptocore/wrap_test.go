package cryptocore

import (
	"crypto/rand"
	"testing"

	"github.com/keikumata/moltdm/internal/domain"
)

// Property 2 (§8): wrap/unwrap round-trips for any 32-byte chain key and
// any valid recipient key pair.
func TestWrapUnwrapRoundTrip(t *testing.T) {
	for i := 0; i < 64; i++ {
		recipient, err := GenerateX25519()
		if err != nil {
			t.Fatalf("GenerateX25519: %v", err)
		}
		var ck domain.ChainKey
		if _, err := rand.Read(ck[:]); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}

		wrapped, err := WrapChainKey(recipient.Public, ck)
		if err != nil {
			t.Fatalf("WrapChainKey: %v", err)
		}
		if len(wrapped) != 92 {
			t.Fatalf("wrapped length = %d, want 92", len(wrapped))
		}

		got, err := UnwrapChainKey(recipient.Private, wrapped)
		if err != nil {
			t.Fatalf("UnwrapChainKey: %v", err)
		}
		if got != ck {
			t.Fatalf("unwrap mismatch")
		}
	}
}

func TestUnwrapFailsForWrongRecipient(t *testing.T) {
	recipient, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	wrongRecipient, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	var ck domain.ChainKey
	if _, err := rand.Read(ck[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	wrapped, err := WrapChainKey(recipient.Public, ck)
	if err != nil {
		t.Fatalf("WrapChainKey: %v", err)
	}

	if _, err := UnwrapChainKey(wrongRecipient.Private, wrapped); err == nil {
		t.Fatalf("expected unwrap with wrong private key to fail")
	}
}

func TestEphemeralKeyNeverReused(t *testing.T) {
	recipient, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	var ck domain.ChainKey
	if _, err := rand.Read(ck[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	seen := map[[32]byte]bool{}
	for i := 0; i < 32; i++ {
		wrapped, err := WrapChainKey(recipient.Public, ck)
		if err != nil {
			t.Fatalf("WrapChainKey: %v", err)
		}
		var eph [32]byte
		copy(eph[:], wrapped[:32])
		if seen[eph] {
			t.Fatalf("ephemeral public key reused")
		}
		seen[eph] = true
	}
}
