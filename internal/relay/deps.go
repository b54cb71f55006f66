// Package relay is the thin, plaintext-blind HTTP surface named in spec.md
// §6: identity directory, conversation/membership CRUD, opaque message
// store-and-forward, and the device-pairing handshake. It never imports
// internal/senderchain — the relay has no ownership of keying material
// (§9, "Ownership and mutability"); every crypto-bearing field that
// passes through here (ciphertext, encryptedSenderKeys, the pairing
// blob) is produced and consumed entirely client-side.
package relay

import (
	"log/slog"

	"github.com/keikumata/moltdm/internal/pairing"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

// Deps wires every dependency a handler needs. One instance is built in
// cmd/relay/main.go and threaded through NewRouter.
type Deps struct {
	Store    *relaystore.Store
	Verifier *reqauth.Verifier
	Pairing  *pairing.TokenIssuer
	Log      *slog.Logger
}
