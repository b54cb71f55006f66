package senderchain

import (
	"context"
	"testing"
	"time"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/kvstore"
)

// peer bundles an identity's signed-prekey pair for the tests below; the
// sender chain only ever needs the X25519 half of a contact's identity.
type peer struct {
	id  string
	spk domain.X25519KeyPair
}

func newPeer(t *testing.T, id string) peer {
	t.Helper()
	spk, err := cryptocore.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return peer{id: id, spk: spk}
}

// staticFetcher resolves prekeys from a fixed map; an id missing from the
// map fails to resolve, so distributor tests can assert per-recipient skip
// behaviour.
type staticFetcher struct {
	keys map[string]domain.X25519Public
}

func (f staticFetcher) SignedPreKey(_ context.Context, id string) (domain.X25519Public, error) {
	pub, ok := f.keys[id]
	if !ok {
		return domain.X25519Public{}, domain.ErrNotFound
	}
	return pub, nil
}

func wireMessage(convID, from string, res SendResult, wraps map[string][]byte) *domain.Message {
	return &domain.Message{
		ID:                  "m",
		ConversationID:      convID,
		FromID:              from,
		CreatedAt:           time.Time{},
		Ciphertext:          res.Ciphertext,
		SenderKeyVersion:    res.Version,
		MessageIndex:        res.MessageIndex,
		EncryptedSenderKeys: wraps,
	}
}

// TestDMRoundTrip is scenario S1: A sends one message to B in a fresh DM
// conversation; B must recover the same plaintext.
func TestDMRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	conv := &domain.Conversation{ID: "dm-1", Members: []string{a.id, b.id}}

	mgrA := NewManager(kvstore.NewMemory())
	recvB := NewReceiver(kvstore.NewMemory())

	res, err := mgrA.Send(ctx, conv.ID, []byte("hey bob"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	fetcher := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}
	wraps := Distribute(ctx, conv, a.id, res.InitialChainKey, fetcher)
	if _, ok := wraps[b.id]; !ok {
		t.Fatalf("expected a wrap for bob")
	}

	msg := wireMessage(conv.ID, a.id, res, wraps)
	dm, err := recvB.Receive(ctx, msg, b.id, b.spk.Private)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(dm.Plaintext) != "hey bob" {
		t.Fatalf("got %q", dm.Plaintext)
	}

	idx, err := recvB.MessageIndex(ctx, conv.ID, a.id)
	if err != nil {
		t.Fatalf("MessageIndex: %v", err)
	}
	if idx != 1 {
		t.Fatalf("messageIndex = %d, want 1", idx)
	}
}

// TestThreeMessageRatchetAdvancesInOrder is scenario S2: three in-order
// sends from A each decrypt at B, and B's receiving index lands on 3.
func TestThreeMessageRatchetAdvancesInOrder(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	conv := &domain.Conversation{ID: "dm-2", Members: []string{a.id, b.id}}
	fetcher := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}

	mgrA := NewManager(kvstore.NewMemory())
	recvB := NewReceiver(kvstore.NewMemory())

	var wraps map[string][]byte
	for i, text := range []string{"one", "two", "three"} {
		res, err := mgrA.Send(ctx, conv.ID, []byte(text))
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if i == 0 {
			wraps = Distribute(ctx, conv, a.id, res.InitialChainKey, fetcher)
		} else {
			wraps = nil
		}
		dm, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, res, wraps), b.id, b.spk.Private)
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if string(dm.Plaintext) != text {
			t.Fatalf("message %d: got %q want %q", i, dm.Plaintext, text)
		}
	}

	idx, err := recvB.MessageIndex(ctx, conv.ID, a.id)
	if err != nil {
		t.Fatalf("MessageIndex: %v", err)
	}
	if idx != 3 {
		t.Fatalf("messageIndex = %d, want 3", idx)
	}
}

// TestOutOfOrderDeliveryIsRecoverable verifies the MAY-cache variant of §9
// open item 1: a later message can arrive and decrypt first, caching the
// skipped key, and the earlier message still decrypts when it arrives.
func TestOutOfOrderDeliveryIsRecoverable(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	conv := &domain.Conversation{ID: "dm-3", Members: []string{a.id, b.id}}
	fetcher := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}

	mgrA := NewManager(kvstore.NewMemory())
	recvB := NewReceiver(kvstore.NewMemory())

	var results []SendResult
	var wraps0 map[string][]byte
	for i, text := range []string{"first", "second", "third"} {
		res, err := mgrA.Send(ctx, conv.ID, []byte(text))
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if i == 0 {
			wraps0 = Distribute(ctx, conv, a.id, res.InitialChainKey, fetcher)
		}
		results = append(results, res)
	}

	// Index 2 ("third") arrives first, carrying the wrap since it's the
	// first message B has seen for this sender.
	dm2, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, results[2], wraps0), b.id, b.spk.Private)
	if err != nil {
		t.Fatalf("Receive index 2: %v", err)
	}
	if string(dm2.Plaintext) != "third" {
		t.Fatalf("got %q", dm2.Plaintext)
	}

	// Index 0 arrives late; must still decrypt from the skipped cache.
	dm0, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, results[0], nil), b.id, b.spk.Private)
	if err != nil {
		t.Fatalf("Receive index 0: %v", err)
	}
	if string(dm0.Plaintext) != "first" {
		t.Fatalf("got %q", dm0.Plaintext)
	}

	// Index 1 arrives late too.
	dm1, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, results[1], nil), b.id, b.spk.Private)
	if err != nil {
		t.Fatalf("Receive index 1: %v", err)
	}
	if string(dm1.Plaintext) != "second" {
		t.Fatalf("got %q", dm1.Plaintext)
	}

	// Replaying index 2 again must fail: it was consumed, not retained.
	if _, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, results[2], nil), b.id, b.spk.Private); err != domain.ErrPastIndex {
		t.Fatalf("expected ErrPastIndex on replay, got %v", err)
	}
}

// TestLateJoinerCannotDecryptHistory is scenario S3: a member added after
// earlier messages were sent never receives a wrap for those messages and
// cannot decrypt them, because OnPeerAdded does not rotate.
func TestLateJoinerCannotDecryptHistory(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	c := newPeer(t, "carol")
	conv := &domain.Conversation{ID: "group-1", Members: []string{a.id, b.id}}

	mgrA := NewManager(kvstore.NewMemory())
	mb := NewMembership(mgrA, NewReceiver(kvstore.NewMemory()))

	res, err := mgrA.Send(ctx, conv.ID, []byte("before carol joins"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	fetcherBeforeJoin := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}
	Distribute(ctx, conv, a.id, res.InitialChainKey, fetcherBeforeJoin)

	conv.Members = append(conv.Members, c.id)
	if err := mb.OnPeerAdded(ctx, conv.ID, c.id); err != nil {
		t.Fatalf("OnPeerAdded: %v", err)
	}

	recvC := NewReceiver(kvstore.NewMemory())
	// Carol never got a wrap for this version, so she has no receiving
	// state at all and must be rejected rather than silently succeed.
	if _, err := recvC.Receive(ctx, wireMessage(conv.ID, a.id, res, nil), c.id, c.spk.Private); err != domain.ErrKeyingUndecryptable {
		t.Fatalf("expected ErrKeyingUndecryptable, got %v", err)
	}

	// A later send DOES reach Carol, since distribution targets the
	// current member set.
	res2, err := mgrA.Send(ctx, conv.ID, []byte("after carol joins"))
	if err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	fetcherAfterJoin := staticFetcher{keys: map[string]domain.X25519Public{
		b.id: b.spk.Public,
		c.id: c.spk.Public,
	}}
	wraps2 := Distribute(ctx, conv, a.id, res2.InitialChainKey, fetcherAfterJoin)
	dm, err := recvC.Receive(ctx, wireMessage(conv.ID, a.id, res2, wraps2), c.id, c.spk.Private)
	if err != nil {
		t.Fatalf("Receive after join: %v", err)
	}
	if string(dm.Plaintext) != "after carol joins" {
		t.Fatalf("got %q", dm.Plaintext)
	}
}

// TestRemovalRotatesAndExcludesDepartedMember is scenario S4: removing a
// member rotates the sending chain, and the next distribution excludes
// the departed member even though they still hold the old key.
func TestRemovalRotatesAndExcludesDepartedMember(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	c := newPeer(t, "carol")
	conv := &domain.Conversation{ID: "group-2", Members: []string{a.id, b.id, c.id}}

	mgrA := NewManager(kvstore.NewMemory())
	mb := NewMembership(mgrA, NewReceiver(kvstore.NewMemory()))

	res1, err := mgrA.Send(ctx, conv.ID, []byte("everyone sees this"))
	if err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if res1.Version != 1 {
		t.Fatalf("version = %d, want 1", res1.Version)
	}

	conv.Members = []string{a.id, b.id}
	if err := mb.OnPeerRemoved(ctx, conv.ID, c.id); err != nil {
		t.Fatalf("OnPeerRemoved: %v", err)
	}

	res2, err := mgrA.Send(ctx, conv.ID, []byte("carol should never read this"))
	if err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	if res2.Version != 2 {
		t.Fatalf("version = %d, want 2 after rotation", res2.Version)
	}
	if res2.MessageIndex != 0 {
		t.Fatalf("messageIndex = %d, want 0 after rotation", res2.MessageIndex)
	}
	if res2.InitialChainKey == res1.InitialChainKey {
		t.Fatalf("rotation must produce a fresh initial chain key")
	}

	fetcher := staticFetcher{keys: map[string]domain.X25519Public{
		b.id: b.spk.Public,
		c.id: c.spk.Public, // carol's prekey is still resolvable, but she's not a member
	}}
	wraps := Distribute(ctx, conv, a.id, res2.InitialChainKey, fetcher)
	if _, ok := wraps[c.id]; ok {
		t.Fatalf("departed member must not receive a wrap for the new version")
	}
	if _, ok := wraps[b.id]; !ok {
		t.Fatalf("remaining member must receive a wrap")
	}
}

// TestDistributeSkipsUnresolvableRecipients verifies §4.4's per-recipient
// failure isolation: one recipient's unresolvable prekey does not prevent
// wrapping to the others.
func TestDistributeSkipsUnresolvableRecipients(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	conv := &domain.Conversation{ID: "dm-4", Members: []string{a.id, b.id, "ghost"}}

	mgrA := NewManager(kvstore.NewMemory())
	res, err := mgrA.Send(ctx, conv.ID, []byte("hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	fetcher := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}
	wraps := Distribute(ctx, conv, a.id, res.InitialChainKey, fetcher)
	if len(wraps) != 1 {
		t.Fatalf("expected exactly one wrap, got %d", len(wraps))
	}
	if _, ok := wraps[b.id]; !ok {
		t.Fatalf("expected a wrap for bob")
	}
}

// TestTamperedCiphertextIsRejected covers §8 invariant: a bit-flipped
// ciphertext is rejected as a crypto-integrity failure, not silently
// accepted or confused with a keying failure.
func TestTamperedCiphertextIsRejected(t *testing.T) {
	ctx := context.Background()
	a := newPeer(t, "alice")
	b := newPeer(t, "bob")
	conv := &domain.Conversation{ID: "dm-5", Members: []string{a.id, b.id}}

	mgrA := NewManager(kvstore.NewMemory())
	recvB := NewReceiver(kvstore.NewMemory())

	res, err := mgrA.Send(ctx, conv.ID, []byte("tamper me"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	fetcher := staticFetcher{keys: map[string]domain.X25519Public{b.id: b.spk.Public}}
	wraps := Distribute(ctx, conv, a.id, res.InitialChainKey, fetcher)

	res.Ciphertext[len(res.Ciphertext)-1] ^= 0x01
	if _, err := recvB.Receive(ctx, wireMessage(conv.ID, a.id, res, wraps), b.id, b.spk.Private); err != domain.ErrCryptoIntegrity {
		t.Fatalf("expected ErrCryptoIntegrity, got %v", err)
	}
}

// TestSelfLeaveDestroysLocalSenderState checks §4.6's "self leaves"
// trigger: after DestroyLocal, the next Send starts a brand-new
// generation rather than continuing the old one.
func TestSelfLeaveDestroysLocalSenderState(t *testing.T) {
	ctx := context.Background()
	backend := kvstore.NewMemory()
	mgr := NewManager(backend)
	mb := NewMembership(mgr, NewReceiver(kvstore.NewMemory()))

	res1, err := mgr.Send(ctx, "conv-x", []byte("before leaving"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := mb.OnSelfLeft(ctx, "conv-x"); err != nil {
		t.Fatalf("OnSelfLeft: %v", err)
	}

	res2, err := mgr.Send(ctx, "conv-x", []byte("after rejoining"))
	if err != nil {
		t.Fatalf("Send after leave: %v", err)
	}
	if res2.Version != 1 {
		t.Fatalf("version = %d, want 1 for a fresh generation", res2.Version)
	}
	if res2.MessageIndex != 0 {
		t.Fatalf("messageIndex = %d, want 0 for a fresh generation", res2.MessageIndex)
	}
	if res2.InitialChainKey == res1.InitialChainKey {
		t.Fatalf("a fresh generation must not reuse the old initial chain key")
	}
}
