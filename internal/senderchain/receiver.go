package senderchain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/kvstore"
)

const receivedKeyPrefix = "received:"

// maxSkippedKeys bounds the skipped-message-key cache per (conversation,
// sender, version) — the conforming-advanced variant of §9 open item 1.
// Once the cap is hit, arbitrary entries are evicted to make room.
const maxSkippedKeys = 256

// Receiver owns C3, the per-(conversation, sender) receiving ratchet.
type Receiver struct {
	backend kvstore.Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewReceiver(backend kvstore.Backend) *Receiver {
	return &Receiver{backend: backend, locks: make(map[string]*sync.Mutex)}
}

func (r *Receiver) lockFor(conversationID, senderID string) *sync.Mutex {
	key := receivedKey(conversationID, senderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Receive implements §4.3 end to end: install or ratchet the receiving
// chain for m.FromID, derive the message key at m.MessageIndex (handling
// reordered delivery per the skipped-key cache), and decrypt.
//
// spkPriv is this client's signed-prekey private half, used to unwrap
// m.EncryptedSenderKeys[selfID] when present.
func (r *Receiver) Receive(ctx context.Context, m *domain.Message, selfID string, spkPriv domain.X25519Private) (*domain.DecryptedMessage, error) {
	lock := r.lockFor(m.ConversationID, m.FromID)
	lock.Lock()
	defer lock.Unlock()

	rk, err := r.load(ctx, m.ConversationID, m.FromID)
	if err != nil {
		return nil, err
	}

	if wrapped, ok := m.EncryptedSenderKeys[selfID]; ok && (rk == nil || rk.Version != m.SenderKeyVersion) {
		ck, err := cryptocore.UnwrapChainKey(spkPriv, wrapped)
		if err != nil {
			// Do not evict existing good state on a wrap failure (§7, keying).
			return nil, domain.ErrKeyingUndecryptable
		}
		rk = &domain.ReceivedKey{
			ConversationID: m.ConversationID,
			SenderID:       m.FromID,
			ChainKey:       ck,
			Version:        m.SenderKeyVersion,
			MessageIndex:   0,
			Skipped:        make(map[uint64]domain.ChainKey),
		}
	}

	if rk == nil {
		return nil, domain.ErrKeyingUndecryptable
	}
	if rk.Version != m.SenderKeyVersion {
		// A version we never bootstrapped into and have no wrap for now
		// (sender rotated past us, e.g. §4.6 peer-removed). This is a
		// keying gap, not a reordered-delivery question — target/index
		// comparisons below only make sense within one chain version.
		return nil, domain.ErrKeyingUndecryptable
	}

	target := m.MessageIndex
	var mk domain.ChainKey
	var nextChainKey domain.ChainKey
	var nextIndex uint64
	var newSkipped map[uint64]domain.ChainKey
	var consumedSkipped bool

	switch {
	case target == rk.MessageIndex:
		mk = cryptocore.MessageKey(rk.ChainKey)
		nextChainKey = cryptocore.NextChainKey(rk.ChainKey)
		nextIndex = rk.MessageIndex + 1
		newSkipped = rk.Skipped

	case target > rk.MessageIndex:
		chainKey := rk.ChainKey
		skipped := cloneSkipped(rk.Skipped)
		for i := rk.MessageIndex; i < target; i++ {
			mk = cryptocore.MessageKey(chainKey)
			skipped[i] = mk
			chainKey = cryptocore.NextChainKey(chainKey)
		}
		storeSkipped(skipped, maxSkippedKeys)
		mk = cryptocore.MessageKey(chainKey)
		nextChainKey = cryptocore.NextChainKey(chainKey)
		nextIndex = target + 1
		delete(skipped, target) // the current index is consumed now, not cached
		newSkipped = skipped

	default: // target < rk.MessageIndex
		cached, ok := rk.Skipped[target]
		if !ok {
			return nil, domain.ErrPastIndex
		}
		mk = cached
		nextChainKey = rk.ChainKey
		nextIndex = rk.MessageIndex
		newSkipped = cloneSkipped(rk.Skipped)
		delete(newSkipped, target)
		consumedSkipped = true
	}

	plaintext, err := cryptocore.OpenMessage(mk, m.Ciphertext)
	cryptocore.Zero(mk[:])
	if err != nil {
		// Tag failure is treated as an active-attack signal; the ratchet
		// must not advance past the failed decryption.
		return nil, domain.ErrCryptoIntegrity
	}

	if !consumedSkipped {
		rk.ChainKey = nextChainKey
		rk.MessageIndex = nextIndex
	}
	rk.Skipped = newSkipped
	if err := r.save(ctx, rk); err != nil {
		return nil, fmt.Errorf("senderchain: persist received key: %w", err)
	}

	return &domain.DecryptedMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		FromID:         m.FromID,
		CreatedAt:      m.CreatedAt,
		Plaintext:      plaintext,
	}, nil
}

// MessageIndex reports the receiving cursor for (conversationID,
// senderID), mainly for tests asserting S1's "B.receivedKey(C,A).messageIndex == 2".
func (r *Receiver) MessageIndex(ctx context.Context, conversationID, senderID string) (uint64, error) {
	rk, err := r.load(ctx, conversationID, senderID)
	if err != nil {
		return 0, err
	}
	if rk == nil {
		return 0, nil
	}
	return rk.MessageIndex, nil
}

// DestroyConversation removes all receiving state tied to a conversation
// the client has left (§4.6, §3 lifecycles).
func (r *Receiver) DestroyConversation(ctx context.Context, conversationID string) error {
	keys, err := r.backend.List(ctx, receivedKeyPrefix+conversationID+":")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.backend.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func cloneSkipped(in map[uint64]domain.ChainKey) map[uint64]domain.ChainKey {
	out := make(map[uint64]domain.ChainKey, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// storeSkipped evicts arbitrary entries once the cache exceeds cap; exact
// eviction order doesn't matter, only that the cache stays bounded.
func storeSkipped(m map[uint64]domain.ChainKey, cap int) {
	for len(m) > cap {
		for k := range m {
			delete(m, k)
			break
		}
	}
}

func receivedKey(conversationID, senderID string) string {
	return receivedKeyPrefix + conversationID + ":" + senderID
}

type receivedKeyBlob struct {
	ChainKey     string            `json:"chainKey"`
	Version      uint64            `json:"version"`
	MessageIndex uint64            `json:"messageIndex"`
	Skipped      map[string]string `json:"skipped,omitempty"`
}

func (r *Receiver) load(ctx context.Context, conversationID, senderID string) (*domain.ReceivedKey, error) {
	data, err := r.backend.Get(ctx, receivedKey(conversationID, senderID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var blob receivedKeyBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("senderchain: unmarshal received key: %w", err)
	}
	rk := &domain.ReceivedKey{
		ConversationID: conversationID,
		SenderID:       senderID,
		Version:        blob.Version,
		MessageIndex:   blob.MessageIndex,
		Skipped:        make(map[uint64]domain.ChainKey, len(blob.Skipped)),
	}
	if err := decodeChainKey(blob.ChainKey, &rk.ChainKey); err != nil {
		return nil, err
	}
	for idxStr, keyStr := range blob.Skipped {
		var idx uint64
		if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
			return nil, fmt.Errorf("senderchain: bad skipped index %q: %w", idxStr, err)
		}
		var ck domain.ChainKey
		if err := decodeChainKey(keyStr, &ck); err != nil {
			return nil, err
		}
		rk.Skipped[idx] = ck
	}
	return rk, nil
}

func (r *Receiver) save(ctx context.Context, rk *domain.ReceivedKey) error {
	blob := receivedKeyBlob{
		ChainKey:     base64.StdEncoding.EncodeToString(rk.ChainKey[:]),
		Version:      rk.Version,
		MessageIndex: rk.MessageIndex,
		Skipped:      make(map[string]string, len(rk.Skipped)),
	}
	for idx, ck := range rk.Skipped {
		blob.Skipped[fmt.Sprintf("%d", idx)] = base64.StdEncoding.EncodeToString(ck[:])
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return r.backend.Set(ctx, receivedKey(rk.ConversationID, rk.SenderID), data)
}
