package domain

// SenderState is the per-conversation sending ratchet owned by C2, the
// Sender Chain Manager. For a given (ConversationID, Version) the pair
// (ChainKey, MessageIndex) is always derivable from InitialChainKey by
// MessageIndex applications of the ratchet.
type SenderState struct {
	ConversationID   string
	ChainKey         ChainKey
	InitialChainKey  ChainKey
	Version          uint64
	MessageIndex     uint64
}
