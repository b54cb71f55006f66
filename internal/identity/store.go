package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/keikumata/moltdm/internal/cryptocore"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/kvstore"
)

// DefaultOneTimePreKeyCount is the default pool size generated at
// registration (§4.1).
const DefaultOneTimePreKeyCount = 10

const storageKey = "identity"

// Store owns the single persisted identity blob for a process (§9 — "None
// beyond the identity file; treat it as process-wide with explicit init
// and teardown").
type Store struct {
	backend kvstore.Backend
}

func New(backend kvstore.Backend) *Store {
	return &Store{backend: backend}
}

// record is the on-disk JSON shape; all key material is base64.
type record struct {
	MoltbotID       string            `json:"moltbotId"`
	IdentityPublic  string            `json:"publicKey"`
	IdentityPrivate string            `json:"privateKey"`
	SignedPreKey    signedPreKeyBlob  `json:"signedPreKey"`
	OneTimePreKeys  []oneTimeKeyBlob  `json:"oneTimePreKeys"`
}

type signedPreKeyBlob struct {
	Public    string `json:"public"`
	Private   string `json:"private"`
	Signature string `json:"signature"`
}

type oneTimeKeyBlob struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

// Generate creates a brand-new identity: an Ed25519 identity key pair, an
// X25519 signed prekey signed by the identity key, and oneTimeCount
// one-time prekey pairs. The returned identity has an empty MoltbotID;
// the relay assigns one at registration and the caller sets it on the
// identity before saving.
func Generate(oneTimeCount int) (*domain.Identity, error) {
	if oneTimeCount < 0 {
		oneTimeCount = 0
	}
	pub, priv, err := cryptocore.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519: %w", err)
	}
	spk, err := cryptocore.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signed prekey: %w", err)
	}
	sig := cryptocore.SignSignedPreKey(priv, spk.Public)

	otks := make([]domain.X25519KeyPair, 0, oneTimeCount)
	for i := 0; i < oneTimeCount; i++ {
		kp, err := cryptocore.GenerateX25519()
		if err != nil {
			return nil, fmt.Errorf("identity: generate one-time prekey %d: %w", i, err)
		}
		otks = append(otks, kp)
	}

	return &domain.Identity{
		IdentityPublic:  pub,
		IdentityPrivate: priv,
		SignedPreKey:    spk,
		SignedPreKeySig: sig,
		OneTimePreKeys:  otks,
	}, nil
}

// PublishedBundle extracts the public material the relay stores and
// serves, for the register/:id fetch endpoints.
func PublishedBundle(id *domain.Identity) domain.PublishedIdentity {
	pubs := make([]domain.X25519Public, 0, len(id.OneTimePreKeys))
	for _, kp := range id.OneTimePreKeys {
		pubs = append(pubs, kp.Public)
	}
	return domain.PublishedIdentity{
		MoltbotID:       id.MoltbotID,
		IdentityKey:     id.IdentityPublic,
		SignedPreKey:    id.SignedPreKey.Public,
		PreKeySignature: id.SignedPreKeySig,
		OneTimePreKeys:  pubs,
	}
}

// Save persists id, overwriting any previous identity.
func (s *Store) Save(ctx context.Context, id *domain.Identity) error {
	rec := toRecord(id)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	return s.backend.Set(ctx, storageKey, data)
}

// Load reads the persisted identity and rejects it at load time if it is
// missing the signed prekey private half (§4.1) — this guards against
// identities created before SPK privates were stored.
func (s *Store) Load(ctx context.Context) (*domain.Identity, error) {
	data, err := s.backend.Get(ctx, storageKey)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: unmarshal: %w", err)
	}
	id, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	if !id.Decrypting() {
		return nil, ErrNotDecrypting
	}
	return id, nil
}

// Replenish generates count additional one-time prekeys, appends them to
// id's local pool, persists the identity, and returns the public halves
// to upload to the relay (§4.1 — "client may upload additional one-time
// pre-key publics; the relay appends").
func (s *Store) Replenish(ctx context.Context, id *domain.Identity, count int) ([]domain.X25519Public, error) {
	if count <= 0 {
		return nil, nil
	}
	added := make([]domain.X25519Public, 0, count)
	for i := 0; i < count; i++ {
		kp, err := cryptocore.GenerateX25519()
		if err != nil {
			return nil, fmt.Errorf("identity: replenish: %w", err)
		}
		id.OneTimePreKeys = append(id.OneTimePreKeys, kp)
		added = append(added, kp.Public)
	}
	if err := s.Save(ctx, id); err != nil {
		return nil, err
	}
	return added, nil
}

func toRecord(id *domain.Identity) record {
	otks := make([]oneTimeKeyBlob, 0, len(id.OneTimePreKeys))
	for _, kp := range id.OneTimePreKeys {
		otks = append(otks, oneTimeKeyBlob{
			Public:  b64(kp.Public[:]),
			Private: b64(kp.Private[:]),
		})
	}
	return record{
		MoltbotID:       id.MoltbotID,
		IdentityPublic:  b64(id.IdentityPublic[:]),
		IdentityPrivate: b64(id.IdentityPrivate[:]),
		SignedPreKey: signedPreKeyBlob{
			Public:    b64(id.SignedPreKey.Public[:]),
			Private:   b64(id.SignedPreKey.Private[:]),
			Signature: b64(id.SignedPreKeySig),
		},
		OneTimePreKeys: otks,
	}
}

func fromRecord(rec record) (*domain.Identity, error) {
	id := &domain.Identity{MoltbotID: rec.MoltbotID}

	if err := unb64Fixed(rec.IdentityPublic, id.IdentityPublic[:]); err != nil {
		return nil, fmt.Errorf("identity: decode identity public: %w", err)
	}
	if err := unb64Fixed(rec.IdentityPrivate, id.IdentityPrivate[:]); err != nil {
		return nil, fmt.Errorf("identity: decode identity private: %w", err)
	}
	if err := unb64Fixed(rec.SignedPreKey.Public, id.SignedPreKey.Public[:]); err != nil {
		return nil, fmt.Errorf("identity: decode signed prekey public: %w", err)
	}
	if rec.SignedPreKey.Private != "" {
		if err := unb64Fixed(rec.SignedPreKey.Private, id.SignedPreKey.Private[:]); err != nil {
			return nil, fmt.Errorf("identity: decode signed prekey private: %w", err)
		}
	}
	sig, err := base64.StdEncoding.DecodeString(rec.SignedPreKey.Signature)
	if err != nil {
		return nil, fmt.Errorf("identity: decode signed prekey signature: %w", err)
	}
	id.SignedPreKeySig = sig

	id.OneTimePreKeys = make([]domain.X25519KeyPair, 0, len(rec.OneTimePreKeys))
	for _, otk := range rec.OneTimePreKeys {
		var kp domain.X25519KeyPair
		if err := unb64Fixed(otk.Public, kp.Public[:]); err != nil {
			return nil, fmt.Errorf("identity: decode one-time prekey public: %w", err)
		}
		if err := unb64Fixed(otk.Private, kp.Private[:]); err != nil {
			return nil, fmt.Errorf("identity: decode one-time prekey private: %w", err)
		}
		id.OneTimePreKeys = append(id.OneTimePreKeys, kp)
	}
	return id, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func unb64Fixed(s string, dst []byte) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("unexpected length %d, want %d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
