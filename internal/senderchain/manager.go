package senderchain

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/kvstore"
)

const senderStateKeyPrefix = "sender:"

// SendResult is everything the caller needs to assemble a wire Message:
// the ciphertext, the position it was encrypted at, and the current
// version's initial chain key for the distributor to wrap to every
// current recipient.
type SendResult struct {
	Ciphertext       []byte
	Version          uint64
	MessageIndex     uint64
	InitialChainKey  domain.ChainKey
}

// Manager owns C2, the per-conversation sending ratchet.
type Manager struct {
	backend kvstore.Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(backend kvstore.Backend) *Manager {
	return &Manager{backend: backend, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// Send performs the atomic send step of §4.2: lazily create sending
// state, derive the message key, ratchet, encrypt, and persist the new
// state before returning — a crash after publish without this ordering
// would cause nonce reuse on resend.
func (m *Manager) Send(ctx context.Context, conversationID string, plaintext []byte) (SendResult, error) {
	if plaintext == nil {
		return SendResult{}, ErrNilPlaintext
	}
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, conversationID)
	if err != nil {
		return SendResult{}, err
	}
	if state == nil {
		state, err = newSenderState(conversationID)
		if err != nil {
			return SendResult{}, err
		}
	}

	mk := cryptocore.MessageKey(state.ChainKey)
	usedIndex := state.MessageIndex
	state.ChainKey = cryptocore.NextChainKey(state.ChainKey)
	state.MessageIndex++

	ct, err := cryptocore.SealMessage(mk, plaintext)
	cryptocore.Zero(mk[:])
	if err != nil {
		return SendResult{}, fmt.Errorf("senderchain: seal: %w", err)
	}

	if err := m.save(ctx, state); err != nil {
		return SendResult{}, fmt.Errorf("senderchain: persist before release: %w", err)
	}

	return SendResult{
		Ciphertext:      ct,
		Version:         state.Version,
		MessageIndex:    usedIndex,
		InitialChainKey: state.InitialChainKey,
	}, nil
}

// Rotate bumps the sending chain to a fresh version with index 0,
// triggered by a membership removal (§4.2, §4.6). The next Send
// distributes the new key only to the current member set.
func (m *Manager) Rotate(ctx context.Context, conversationID string) error {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if state == nil {
		state, err = newSenderState(conversationID)
		if err != nil {
			return err
		}
		return m.save(ctx, state)
	}

	fresh, err := randomChainKey()
	if err != nil {
		return fmt.Errorf("senderchain: rotate: %w", err)
	}
	state.Version++
	state.InitialChainKey = fresh
	state.ChainKey = fresh
	state.MessageIndex = 0
	return m.save(ctx, state)
}

// Adopt installs sending state transferred to a newly paired device
// (§4.6, S6): the pairing payload carries only the initial chain key for
// each conversation, not a version counter, so a freshly paired device
// starts that conversation's chain at version 1 with index 0 — the same
// treatment as a rotation boundary, which is safe because the pairing
// device is expected to stop sending once the transfer completes.
func (m *Manager) Adopt(ctx context.Context, conversationID string, initialChainKey domain.ChainKey) error {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state := &domain.SenderState{
		ConversationID:  conversationID,
		ChainKey:        initialChainKey,
		InitialChainKey: initialChainKey,
		Version:         1,
		MessageIndex:    0,
	}
	return m.save(ctx, state)
}

// DestroyLocal removes local sending state, used when this client leaves
// the conversation (§4.6 — "Self leaves: destroy local sender state").
func (m *Manager) DestroyLocal(ctx context.Context, conversationID string) error {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()
	return m.backend.Delete(ctx, senderStateKey(conversationID))
}

// CurrentInitialChainKey reports the initial chain key and version for
// the current sending generation, or ok=false if no sending state has
// been created yet. Useful for redistributing the key without sending
// (e.g. on a membership add — see §4.6, which defers distribution to the
// next send rather than acting here).
func (m *Manager) CurrentInitialChainKey(ctx context.Context, conversationID string) (domain.ChainKey, uint64, bool, error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, conversationID)
	if err != nil {
		return domain.ChainKey{}, 0, false, err
	}
	if state == nil {
		return domain.ChainKey{}, 0, false, nil
	}
	return state.InitialChainKey, state.Version, true, nil
}

func newSenderState(conversationID string) (*domain.SenderState, error) {
	ck, err := randomChainKey()
	if err != nil {
		return nil, err
	}
	return &domain.SenderState{
		ConversationID:  conversationID,
		ChainKey:        ck,
		InitialChainKey: ck,
		Version:         1,
		MessageIndex:    0,
	}, nil
}

func randomChainKey() (domain.ChainKey, error) {
	var ck domain.ChainKey
	if _, err := rand.Read(ck[:]); err != nil {
		return domain.ChainKey{}, err
	}
	return ck, nil
}

func senderStateKey(conversationID string) string {
	return senderStateKeyPrefix + conversationID
}

type senderStateBlob struct {
	ChainKey        string `json:"chainKey"`
	InitialChainKey string `json:"initialChainKey"`
	Version         uint64 `json:"version"`
	MessageIndex    uint64 `json:"messageIndex"`
}

func (m *Manager) load(ctx context.Context, conversationID string) (*domain.SenderState, error) {
	data, err := m.backend.Get(ctx, senderStateKey(conversationID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var blob senderStateBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("senderchain: unmarshal state: %w", err)
	}
	state := &domain.SenderState{
		ConversationID: conversationID,
		Version:        blob.Version,
		MessageIndex:   blob.MessageIndex,
	}
	if err := decodeChainKey(blob.ChainKey, &state.ChainKey); err != nil {
		return nil, err
	}
	if err := decodeChainKey(blob.InitialChainKey, &state.InitialChainKey); err != nil {
		return nil, err
	}
	return state, nil
}

func (m *Manager) save(ctx context.Context, state *domain.SenderState) error {
	blob := senderStateBlob{
		ChainKey:        base64.StdEncoding.EncodeToString(state.ChainKey[:]),
		InitialChainKey: base64.StdEncoding.EncodeToString(state.InitialChainKey[:]),
		Version:         state.Version,
		MessageIndex:    state.MessageIndex,
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return m.backend.Set(ctx, senderStateKey(state.ConversationID), data)
}

func decodeChainKey(s string, dst *domain.ChainKey) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("senderchain: chain key wrong length %d", len(b))
	}
	copy(dst[:], b)
	return nil
}
