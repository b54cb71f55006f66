package senderchain

import "context"

// Membership wires the four trigger reactions of §4.6 to the Manager and
// Receiver. It holds no state of its own.
type Membership struct {
	manager  *Manager
	receiver *Receiver
}

func NewMembership(manager *Manager, receiver *Receiver) *Membership {
	return &Membership{manager: manager, receiver: receiver}
}

// OnSelfJoined is a no-op: joining is the relay adding this client to the
// member list. The next Send picks up the full current member set; there
// is no sending state to create until this client actually sends.
func (mb *Membership) OnSelfJoined(ctx context.Context, conversationID string) error {
	return nil
}

// OnPeerAdded is also a no-op on the crypto side: the spec deliberately
// does not rotate on add. The new member receives the current sending
// generation's key on the next Send's distribution step. Messages sent
// before the join carry no wrap for them, so the new member gets a keying
// error for any it processes before that first wrap arrives (§4.6).
func (mb *Membership) OnPeerAdded(ctx context.Context, conversationID, peerID string) error {
	return nil
}

// OnPeerRemoved MUST rotate the sending chain (§4.2, §4.6): a departed
// member who still holds the current initial chain key must not be able
// to derive any key sent after they left.
func (mb *Membership) OnPeerRemoved(ctx context.Context, conversationID, peerID string) error {
	return mb.manager.Rotate(ctx, conversationID)
}

// OnSelfLeft destroys local sending state for the conversation. Receiving
// state for other senders is left alone; §4.6 only calls for destroying
// "local sender state", and retaining receive state lets any final
// already-fetched messages still be read.
func (mb *Membership) OnSelfLeft(ctx context.Context, conversationID string) error {
	return mb.manager.DestroyLocal(ctx, conversationID)
}
