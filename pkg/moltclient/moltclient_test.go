package moltclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/jwtsigner"
	"github.com/keikumata/moltdm/internal/kvstore"
	"github.com/keikumata/moltdm/internal/pairing"
	"github.com/keikumata/moltdm/internal/relay"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

// newTestRelay boots a full relay — sqlite in-memory store, request
// authenticator, pairing token issuer, and router — behind an
// httptest.Server, mirroring cmd/relay/main.go's wiring.
func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := relaystore.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := relaystore.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := relaystore.New(db)

	signer, err := jwtsigner.NewFromBase64("", "test-1", "moltdm-test")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	deps := &relay.Deps{
		Store: store,
		Verifier: &reqauth.Verifier{
			Lookup: func(ctx context.Context, moltbotID string) (domain.Ed25519Public, bool) {
				encoded, ok := store.Identities().PublicKeyLookup(ctx, moltbotID)
				if !ok {
					return domain.Ed25519Public{}, false
				}
				raw, err := base64.StdEncoding.DecodeString(encoded)
				if err != nil || len(raw) != 32 {
					return domain.Ed25519Public{}, false
				}
				var pub domain.Ed25519Public
				copy(pub[:], raw)
				return pub, true
			},
		},
		Pairing: pairing.NewTokenIssuer(signer),
	}
	handler := relay.NewRouter(deps, []string{"*"}, 0)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := New(baseURL, kvstore.NewMemory())
	if err := c.Register(context.Background(), 5); err != nil {
		t.Fatalf("register: %v", err)
	}
	return c
}

// S1 — DM round trip: A, B register. A starts a conversation with B. A
// sends "Hello" and "World"; B decrypts both in order and B's receiving
// cursor for A lands at messageIndex 2.
func TestS1_DMRoundTrip(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, []string{b.MoltbotID()}, nil, "dm")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := a.Send(ctx, conv.ID, []byte("Hello"), SendOptions{}); err != nil {
		t.Fatalf("send Hello: %v", err)
	}
	if _, err := a.Send(ctx, conv.ID, []byte("World"), SendOptions{}); err != nil {
		t.Fatalf("send World: %v", err)
	}

	received, err := b.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(received))
	}
	for i, want := range []string{"Hello", "World"} {
		if received[i].Err != nil {
			t.Fatalf("message %d: decrypt error: %v", i, received[i].Err)
		}
		if got := string(received[i].Message.Plaintext); got != want {
			t.Fatalf("message %d: got %q, want %q", i, got, want)
		}
	}

	idx, err := b.Receiver.MessageIndex(ctx, conv.ID, a.MoltbotID())
	if err != nil {
		t.Fatalf("message index: %v", err)
	}
	if idx != 2 {
		t.Fatalf("B's receiving cursor = %d, want 2", idx)
	}
}

// S2 — Ratchet over three messages: indices in delivered records are
// 0, 1, 2 and plaintexts decrypt in order.
func TestS2_RatchetOverThreeMessages(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, []string{b.MoltbotID()}, nil, "dm")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for _, p := range []string{"1", "2", "3"} {
		if _, err := a.Send(ctx, conv.ID, []byte(p), SendOptions{}); err != nil {
			t.Fatalf("send %q: %v", p, err)
		}
	}

	received, err := b.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(received))
	}
	for i, want := range []string{"1", "2", "3"} {
		if received[i].Err != nil {
			t.Fatalf("message %d: decrypt error: %v", i, received[i].Err)
		}
		if got := string(received[i].Message.Plaintext); got != want {
			t.Fatalf("message %d: got %q, want %q", i, got, want)
		}
	}
}

// S3 — Late joiner: A, B in group G. A sends "before". C joins. A sends
// "after". B decrypts both; C decrypts "after" only, and fails on
// "before" with the keying-failure placeholder.
func TestS3_LateJoiner(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)
	cc := newTestClient(t, srv.URL)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, []string{b.MoltbotID()}, nil, "group")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := a.Send(ctx, conv.ID, []byte("before"), SendOptions{}); err != nil {
		t.Fatalf("send before: %v", err)
	}

	if err := a.AddMember(ctx, conv.ID, cc.MoltbotID()); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := a.Send(ctx, conv.ID, []byte("after"), SendOptions{}); err != nil {
		t.Fatalf("send after: %v", err)
	}

	bReceived, err := b.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("b fetch: %v", err)
	}
	if len(bReceived) != 2 || bReceived[0].Err != nil || bReceived[1].Err != nil {
		t.Fatalf("B should decrypt both messages cleanly: %+v", bReceived)
	}
	if string(bReceived[0].Message.Plaintext) != "before" || string(bReceived[1].Message.Plaintext) != "after" {
		t.Fatalf("unexpected plaintexts: %q, %q", bReceived[0].Message.Plaintext, bReceived[1].Message.Plaintext)
	}

	cReceived, err := cc.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("c fetch: %v", err)
	}
	if len(cReceived) != 2 {
		t.Fatalf("C should see both messages on the wire, got %d", len(cReceived))
	}
	if cReceived[0].Err == nil {
		t.Fatalf("C should fail to decrypt the pre-join message")
	}
	if !errors.Is(cReceived[0].Err, domain.ErrKeyingUndecryptable) {
		t.Fatalf("expected ErrKeyingUndecryptable for pre-join message, got %v", cReceived[0].Err)
	}
	if cReceived[1].Err != nil {
		t.Fatalf("C should decrypt the post-join message: %v", cReceived[1].Err)
	}
	if string(cReceived[1].Message.Plaintext) != "after" {
		t.Fatalf("C's decrypted message = %q, want %q", cReceived[1].Message.Plaintext, "after")
	}
}

// S4 — Removal triggers rotation: A, B, C in G; A removes C and sends
// again. The new message carries version 2, index 0, and wraps for A and
// B only — never C. B never calls RemoveMember itself — it only learns
// of the removal by fetching — yet its own next send must rotate too:
// if B kept sending under its pre-removal chain, C (who already holds
// B's v1 wrap) could still read everything B posts after being removed,
// which is exactly the leak §1 rules out.
func TestS4_RemovalTriggersRotation(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)
	cc := newTestClient(t, srv.URL)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, []string{b.MoltbotID(), cc.MoltbotID()}, nil, "group")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// B sends once while C is still a member, so C holds a wrap for B's
	// pre-removal chain — otherwise a failure to decrypt B's later traffic
	// would prove nothing about rotation.
	if _, err := b.Send(ctx, conv.ID, []byte("b1"), SendOptions{}); err != nil {
		t.Fatalf("send b1: %v", err)
	}
	if _, err := a.Send(ctx, conv.ID, []byte("m1"), SendOptions{}); err != nil {
		t.Fatalf("send m1: %v", err)
	}

	if err := a.RemoveMember(ctx, conv.ID, cc.MoltbotID()); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if _, err := a.Send(ctx, conv.ID, []byte("m2"), SendOptions{}); err != nil {
		t.Fatalf("send m2: %v", err)
	}

	// B stayed passive during the removal — it never called RemoveMember
	// or AddMember — so the only way it learns about C's removal is the
	// SyncMembership call inside Fetch.
	bReceived, err := b.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("b fetch: %v", err)
	}
	if len(bReceived) != 2 {
		t.Fatalf("expected 2 messages for B, got %d", len(bReceived))
	}

	// B's own post-removal send must land on a rotated chain, purely as a
	// side effect of the sync that just ran inside Fetch.
	if _, err := b.Send(ctx, conv.ID, []byte("b2"), SendOptions{}); err != nil {
		t.Fatalf("send b2: %v", err)
	}

	// Re-fetch the raw wire form to inspect version/index/wraps directly.
	var raw struct {
		Messages []messageResponse `json:"messages"`
	}
	if _, err := b.doSigned(ctx, "GET", "/api/conversations/"+conv.ID+"/messages?since="+time.Time{}.Format(time.RFC3339Nano), nil, &raw); err != nil {
		t.Fatalf("raw fetch: %v", err)
	}
	var m2, b2 messageResponse
	for _, m := range raw.Messages {
		if m.SenderKeyVersion == 2 && m.FromID == a.MoltbotID() {
			m2 = m
		}
		if m.SenderKeyVersion == 2 && m.FromID == b.MoltbotID() {
			b2 = m
		}
	}
	if m2.SenderKeyVersion != 2 {
		t.Fatalf("expected m2 at version 2, never observed it")
	}
	if m2.MessageIndex != 0 {
		t.Fatalf("m2.messageIndex = %d, want 0", m2.MessageIndex)
	}
	if _, ok := m2.EncryptedSenderKeys[cc.MoltbotID()]; ok {
		t.Fatalf("m2 should not wrap a key for the removed member C")
	}
	if _, ok := m2.EncryptedSenderKeys[b.MoltbotID()]; !ok {
		t.Fatalf("m2 should wrap a key for B")
	}
	if b2.SenderKeyVersion != 2 {
		t.Fatalf("expected b2 at version 2, never observed it — B never rotated")
	}
	if b2.MessageIndex != 0 {
		t.Fatalf("b2.messageIndex = %d, want 0", b2.MessageIndex)
	}
	if _, ok := b2.EncryptedSenderKeys[cc.MoltbotID()]; ok {
		t.Fatalf("b2 should not wrap a key for the removed member C")
	}

	// C still only holds each sender's version-1 chain key: it can read
	// both senders' pre-removal traffic (b1, m1, in send order) but
	// neither sender's post-removal traffic (m2, b2) — including B's,
	// even though C never saw B rotate directly.
	cReceived, err := cc.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("c fetch: %v", err)
	}
	if len(cReceived) != 4 {
		t.Fatalf("C should see all 4 messages on the wire (2 decryptable, 2 not), got %d", len(cReceived))
	}
	if cReceived[0].Err != nil || string(cReceived[0].Message.Plaintext) != "b1" {
		t.Fatalf("C should still decrypt b1, sent before its removal: %+v", cReceived[0])
	}
	if cReceived[1].Err != nil || string(cReceived[1].Message.Plaintext) != "m1" {
		t.Fatalf("C should still decrypt m1, sent before its removal: %+v", cReceived[1])
	}
	if !errors.Is(cReceived[2].Err, domain.ErrKeyingUndecryptable) {
		t.Fatalf("C should fail to decrypt m2 (A's post-removal send): %+v", cReceived[2])
	}
	if !errors.Is(cReceived[3].Err, domain.ErrKeyingUndecryptable) {
		t.Fatalf("C should fail to decrypt b2 (B's post-removal send, proving B rotated too): %+v", cReceived[3])
	}
}

// S5 — Signature rejection: a stale timestamp and a tampered signature
// are both rejected by the relay's request authenticator.
func TestS5_SignatureRejection(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	ctx := context.Background()

	// Stale timestamp: sign with a clock 6 minutes in the past.
	staleSigner := &reqauth.Signer{
		MoltbotID:    a.MoltbotID(),
		IdentityPriv: a.identity.IdentityPrivate,
		Now:          func() int64 { return time.Now().Add(-6 * time.Minute).UnixMilli() },
	}
	status, err := rawSignedRequest(ctx, a, staleSigner, []byte(`{"memberIds":[]}`))
	if err == nil {
		t.Fatalf("expected stale timestamp to be rejected")
	}
	if status != 401 {
		t.Fatalf("expected 401 for stale timestamp, got %d", status)
	}

	// Tampered body: sign one body, send a different one — the signature
	// covers a bodyHash that no longer matches what the relay receives.
	tamperedSigner := &reqauth.Signer{MoltbotID: a.MoltbotID(), IdentityPriv: a.identity.IdentityPrivate}
	status, err = rawSignedRequestWithMismatchedBody(ctx, a, tamperedSigner,
		[]byte(`{"memberIds":[]}`), []byte(`{"memberIds":["someone-else"]}`))
	if err == nil {
		t.Fatalf("expected tampered body to be rejected")
	}
	if status != 401 {
		t.Fatalf("expected 401 for tampered signature, got %d", status)
	}
}

// rawSignedRequest signs body with signer and sends it verbatim,
// bypassing Client.do so the test controls the clock used for signing.
func rawSignedRequest(ctx context.Context, c *Client, signer *reqauth.Signer, body []byte) (int, error) {
	return rawSignedRequestWithMismatchedBody(ctx, c, signer, body, body)
}

// rawSignedRequestWithMismatchedBody signs signedBody but sends sentBody
// on the wire, producing a signature that does not cover the bytes the
// relay actually hashes.
func rawSignedRequestWithMismatchedBody(ctx context.Context, c *Client, signer *reqauth.Signer, signedBody, sentBody []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url("/api/conversations"), bytes.NewReader(sentBody))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	signer.Sign(req, signedBody)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return resp.StatusCode, errors.New(resp.Status)
	}
	return resp.StatusCode, nil
}

// S6 — Device pair decrypt: A pairs a new device D. D receives a message
// from B and decrypts it using the transferred key material, then sends
// as A with a signature that verifies under A's identity key.
func TestS6_DevicePairDecrypt(t *testing.T) {
	srv := newTestRelay(t)
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, []string{b.MoltbotID()}, nil, "dm")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := a.Send(ctx, conv.ID, []byte("seed"), SendOptions{}); err != nil {
		t.Fatalf("seed send: %v", err)
	}

	token, err := a.InitiatePairing(ctx)
	if err != nil {
		t.Fatalf("initiate pairing: %v", err)
	}

	d := New(srv.URL, kvstore.NewMemory())
	pending, err := d.SubmitPairing(ctx, token)
	if err != nil {
		t.Fatalf("submit pairing: %v", err)
	}
	if err := a.ClaimPairing(ctx, token, []string{conv.ID}); err != nil {
		t.Fatalf("claim pairing: %v", err)
	}
	if err := d.CompletePairing(ctx, pending, a.MoltbotID()); err != nil {
		t.Fatalf("complete pairing: %v", err)
	}
	if d.MoltbotID() != a.MoltbotID() {
		t.Fatalf("paired device moltbotId = %q, want %q", d.MoltbotID(), a.MoltbotID())
	}

	if _, err := b.Send(ctx, conv.ID, []byte("hi from B"), SendOptions{}); err != nil {
		t.Fatalf("b send: %v", err)
	}
	received, err := d.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("d fetch: %v", err)
	}
	if len(received) != 1 || received[0].Err != nil {
		t.Fatalf("D should decrypt B's message: %+v", received)
	}
	if string(received[0].Message.Plaintext) != "hi from B" {
		t.Fatalf("D decrypted %q, want %q", received[0].Message.Plaintext, "hi from B")
	}

	if _, err := d.Send(ctx, conv.ID, []byte("hi from D-as-A"), SendOptions{}); err != nil {
		t.Fatalf("d send as A: %v", err)
	}
	bReceived, err := b.Fetch(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("b fetch: %v", err)
	}
	if len(bReceived) == 0 || bReceived[len(bReceived)-1].Err != nil {
		t.Fatalf("B should decrypt D's message sent as A: %+v", bReceived)
	}
	if string(bReceived[len(bReceived)-1].Message.Plaintext) != "hi from D-as-A" {
		t.Fatalf("unexpected plaintext: %q", bReceived[len(bReceived)-1].Message.Plaintext)
	}
}
