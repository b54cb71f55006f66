package relay

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keikumata/moltdm/internal/observability/metrics"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

type createConversationRequest struct {
	MemberIDs []string `json:"memberIds"`
	Name      *string  `json:"name,omitempty"`
	Type      string   `json:"type,omitempty"`
}

type conversationResponse struct {
	ID               string   `json:"id"`
	Name             *string  `json:"name,omitempty"`
	Type             string   `json:"type"`
	SenderKeyVersion uint64   `json:"senderKeyVersion"`
	MemberIDs        []string `json:"memberIds"`
	Admins           []string `json:"admins,omitempty"`
}

// handleCreateConversation creates a conversation or 1:1 DM (§6 — "creates
// conversation or message request"; message requests themselves are an
// out-of-scope feature layer per spec.md §1, so every create here lands
// as an ordinary conversation). The caller is always included as a
// member and admin.
func (d *Deps) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	self := reqauth.MoltbotIDFromContext(r.Context())
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	convType := req.Type
	if convType == "" {
		convType = "dm"
	}
	members := dedupeWithSelf(self, req.MemberIDs)

	conv := relaystore.Conversation{
		ID:   uuid.NewString(),
		Name: req.Name,
		Type: convType,
	}
	if err := d.Store.Conversations().Create(r.Context(), conv, members); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	if err := d.Store.Conversations().SetAdmin(r.Context(), conv.ID, self, true); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set creator as admin")
		return
	}

	writeJSON(w, http.StatusCreated, conversationResponse{
		ID:        conv.ID,
		Name:      conv.Name,
		Type:      conv.Type,
		MemberIDs: members,
		Admins:    []string{self},
	})
}

func (d *Deps) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	self := reqauth.MoltbotIDFromContext(r.Context())

	conv, err := d.Store.Conversations().Get(r.Context(), id)
	if err != nil {
		writeConversationLoadError(w, err)
		return
	}
	members, err := d.Store.Conversations().Members(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	memberIDs, admins := splitMembers(members)
	if !requireMember(memberIDs, self) {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse{
		ID:               conv.ID,
		Name:             conv.Name,
		Type:             conv.Type,
		SenderKeyVersion: conv.SenderKeyVersion,
		MemberIDs:        memberIDs,
		Admins:           admins,
	})
}

type patchConversationRequest struct {
	Name *string `json:"name"`
}

func (d *Deps) handlePatchConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !d.requireAdminOf(w, r, id) {
		return
	}
	var req patchConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := d.Store.Conversations().Rename(r.Context(), id, req.Name); err != nil {
		writeConversationLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (d *Deps) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !d.requireAdminOf(w, r, id) {
		return
	}
	if err := d.Store.Conversations().Delete(r.Context(), id); err != nil {
		writeConversationLoadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMember adds a member (§4.6 — "Peer added: no immediate
// action; the next send will include a wrap"). The relay performs no
// crypto reaction here; it only records the membership row so the
// adding client's own senderchain.Membership.OnPeerAdded (a documented
// no-op) and subsequent sends reflect the new roster.
func (d *Deps) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !d.requireAdminOf(w, r, id) {
		return
	}
	var req struct {
		MoltbotID string `json:"moltbotId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.MoltbotID == "" {
		writeError(w, http.StatusBadRequest, "missing moltbotId")
		return
	}
	if err := d.Store.Conversations().AddMember(r.Context(), id, req.MoltbotID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	self := reqauth.MoltbotIDFromContext(r.Context())
	_ = d.Store.MembershipEvents().Append(r.Context(), relaystore.MembershipEvent{
		ConversationID: id, Kind: "added", SubjectID: req.MoltbotID, ActorID: self,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveMember removes a member and records the event that every
// participant's SyncMembership applies: the departed peer's former
// fellow members call senderchain.Membership.OnPeerRemoved — which
// rotates C2 and excludes the departed peer from the next distribution
// (§4.6, S4). Removing another member takes admin rights; a member may
// always remove itself, which is recorded as "left" rather than
// "removed". The relay itself never rotates anything: it has no
// sender-chain state to rotate.
func (d *Deps) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mid := chi.URLParam(r, "mid")
	self := reqauth.MoltbotIDFromContext(r.Context())
	if mid != self && !d.requireAdminOf(w, r, id) {
		return
	}
	if err := d.Store.Conversations().RemoveMember(r.Context(), id, mid); err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not a member")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	kind, trigger := "removed", "peer_removed"
	if mid == self {
		kind, trigger = "left", "self_leave"
	}
	_ = d.Store.MembershipEvents().Append(r.Context(), relaystore.MembershipEvent{
		ConversationID: id, Kind: kind, SubjectID: mid, ActorID: self,
	})
	metrics.SenderKeyRotationsTotal.WithLabelValues(trigger).Inc()
	w.WriteHeader(http.StatusNoContent)
}

type membershipEventResponse struct {
	ID             uint   `json:"id"`
	ConversationID string `json:"conversationId"`
	Kind           string `json:"kind"`
	SubjectID      string `json:"subjectId"`
	ActorID        string `json:"actorId"`
	CreatedAt      string `json:"createdAt"`
}

// handleListMembershipEvents is the feed every participating client
// polls to learn about removals and departures it did not itself cause
// (§4.6, S4): the acting admin's own Membership reaction to its
// handleRemoveMember call is not enough, because nothing else tells a
// bystander member to rotate its own sending chain. A current or former
// member may read the log (a client SyncMembership calls right after
// fetching messages must not itself be locked out by the very removal
// it is trying to learn about); ?after=<id> returns only events newer
// than the caller's last-applied cursor.
func (d *Deps) handleListMembershipEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	self := reqauth.MoltbotIDFromContext(r.Context())

	members, err := d.Store.Conversations().Members(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	memberIDs, _ := splitMembers(members)
	events, err := d.Store.MembershipEvents().List(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load membership events")
		return
	}
	if !requireMember(memberIDs, self) && !wasEverMember(events, self) {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	var after uint
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed after cursor")
			return
		}
		after = uint(parsed)
	}

	out := make([]membershipEventResponse, 0, len(events))
	for _, ev := range events {
		if ev.ID <= after {
			continue
		}
		out = append(out, membershipEventResponse{
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			Kind:           ev.Kind,
			SubjectID:      ev.SubjectID,
			ActorID:        ev.ActorID,
			CreatedAt:      ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (d *Deps) handleSetAdmin(w http.ResponseWriter, r *http.Request, isAdmin bool) {
	id := chi.URLParam(r, "id")
	mid := chi.URLParam(r, "mid")
	if mid == "" {
		var req struct {
			MoltbotID string `json:"moltbotId"`
		}
		if err := decodeJSON(r, &req); err != nil || req.MoltbotID == "" {
			writeError(w, http.StatusBadRequest, "missing moltbotId")
			return
		}
		mid = req.MoltbotID
	}
	if !d.requireAdminOf(w, r, id) {
		return
	}
	if err := d.Store.Conversations().SetAdmin(r.Context(), id, mid, isAdmin); err != nil {
		if errors.Is(err, relaystore.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not a member")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update admin flag")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) handleAddAdmin(w http.ResponseWriter, r *http.Request)    { d.handleSetAdmin(w, r, true) }
func (d *Deps) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) { d.handleSetAdmin(w, r, false) }

// requireAdminOf loads the conversation's membership and rejects the
// request unless the authenticated caller is an admin, writing the
// response itself on failure (§7 — "Authorization: non-member,
// non-admin action: reject; state unchanged").
func (d *Deps) requireAdminOf(w http.ResponseWriter, r *http.Request, conversationID string) bool {
	self := reqauth.MoltbotIDFromContext(r.Context())
	members, err := d.Store.Conversations().Members(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return false
	}
	for _, m := range members {
		if m.MoltbotID == self {
			if !m.IsAdmin {
				writeError(w, http.StatusForbidden, "admin action requires admin role")
				return false
			}
			return true
		}
	}
	writeError(w, http.StatusForbidden, "not a member of this conversation")
	return false
}

func writeConversationLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, relaystore.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load conversation")
}

func splitMembers(members []relaystore.ConversationMember) (ids []string, admins []string) {
	for _, m := range members {
		ids = append(ids, m.MoltbotID)
		if m.IsAdmin {
			admins = append(admins, m.MoltbotID)
		}
	}
	return
}

func dedupeWithSelf(self string, others []string) []string {
	seen := map[string]bool{self: true}
	out := []string{self}
	for _, id := range others {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
