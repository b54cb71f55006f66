package relay

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keikumata/moltdm/internal/observability/metrics"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

type postMessageRequest struct {
	Ciphertext          string            `json:"ciphertext"`
	SenderKeyVersion    uint64            `json:"senderKeyVersion"`
	MessageIndex        uint64            `json:"messageIndex"`
	ReplyTo             *string           `json:"replyTo,omitempty"`
	ExpiresInSeconds    *int64            `json:"expiresIn,omitempty"`
	EncryptedSenderKeys map[string]string `json:"encryptedSenderKeys,omitempty"`
}

type messageResponse struct {
	ID                  string            `json:"id"`
	ConversationID      string            `json:"conversationId"`
	FromID              string            `json:"fromId"`
	CreatedAt           time.Time         `json:"createdAt"`
	Ciphertext          string            `json:"ciphertext"`
	SenderKeyVersion    uint64            `json:"senderKeyVersion"`
	MessageIndex        uint64            `json:"messageIndex"`
	ReplyTo             *string           `json:"replyTo,omitempty"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
	EncryptedSenderKeys map[string]string `json:"encryptedSenderKeys,omitempty"`
}

// handlePostMessage stores a message exactly as posted — ciphertext,
// ratchet bookkeeping, and the wrapped keys are all opaque to the relay
// (§4.4, §6). The only thing checked here is conversation membership.
func (d *Deps) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	self := reqauth.MoltbotIDFromContext(r.Context())

	memberIDs, err := d.Store.Conversations().MemberIDs(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !requireMember(memberIDs, self) {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ciphertext encoding")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInSeconds != nil {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresInSeconds) * time.Second)
		expiresAt = &t
	}

	msg := relaystore.Message{
		ID:                  uuid.NewString(),
		ConversationID:      convID,
		FromID:              self,
		Ciphertext:          ciphertext,
		SenderKeyVersion:    req.SenderKeyVersion,
		MessageIndex:        req.MessageIndex,
		EncryptedSenderKeys: req.EncryptedSenderKeys,
		ReplyTo:             req.ReplyTo,
		ExpiresAt:           expiresAt,
	}
	if err := d.Store.Messages().Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	convType := "dm"
	if conv, err := d.Store.Conversations().Get(r.Context(), convID); err == nil {
		convType = conv.Type
	}
	metrics.MessagesRelayedTotal.WithLabelValues(convType).Inc()

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleListMessages returns messages strictly after ?since= (RFC3339,
// default the zero time) ordered oldest-first (§5's ordering contract),
// filtering out anything already expired.
func (d *Deps) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	self := reqauth.MoltbotIDFromContext(r.Context())

	memberIDs, err := d.Store.Conversations().MemberIDs(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	// A former member may still fetch: it is the ratchet, not this
	// check, that must stop it from reading anything sent after it left
	// (§8, S4). Anyone who was never on the roster at all is still
	// rejected outright.
	if !requireMember(memberIDs, self) {
		events, err := d.Store.MembershipEvents().List(r.Context(), convID, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
			return
		}
		if !wasEverMember(events, self) {
			writeError(w, http.StatusForbidden, "not a member of this conversation")
			return
		}
	}

	since := time.Time{}
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := d.Store.Messages().List(r.Context(), convID, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func toMessageResponse(m relaystore.Message) messageResponse {
	return messageResponse{
		ID:                  m.ID,
		ConversationID:      m.ConversationID,
		FromID:              m.FromID,
		CreatedAt:           m.CreatedAt,
		Ciphertext:          base64.StdEncoding.EncodeToString(m.Ciphertext),
		SenderKeyVersion:    m.SenderKeyVersion,
		MessageIndex:        m.MessageIndex,
		ReplyTo:             m.ReplyTo,
		ExpiresAt:           m.ExpiresAt,
		EncryptedSenderKeys: m.EncryptedSenderKeys,
	}
}
