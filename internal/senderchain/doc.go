// Package senderchain implements C2 (Sender Chain Manager), C3 (Receiver
// Chain Cache), and C4 (Sender Key Distributor): the per-conversation
// sending and receiving ratchets, and the ephemeral-ECDH wrap that
// distributes a sender's initial chain key to every current recipient.
//
// Mutating operations (Send, Receive, Rotate) are serialised: two
// concurrent sends on the same conversation would burn the same
// (version, messageIndex) pair, which is a catastrophic AES-GCM
// key+nonce collision at the recipient (§5). Manager holds one mutex per
// conversation and Receiver one per (conversation, sender); a caller
// never needs its own lock around these calls.
package senderchain
