package main

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/keikumata/moltdm/internal/config"
	"github.com/keikumata/moltdm/internal/domain"
	"github.com/keikumata/moltdm/internal/jwtsigner"
	"github.com/keikumata/moltdm/internal/observability/logging"
	"github.com/keikumata/moltdm/internal/observability/metrics"
	"github.com/keikumata/moltdm/internal/pairing"
	"github.com/keikumata/moltdm/internal/relay"
	"github.com/keikumata/moltdm/internal/relaystore"
	"github.com/keikumata/moltdm/internal/reqauth"
)

func main() {
	cfg := config.Load()

	log := logging.New(logging.Config{
		ServiceName: "relay",
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(log)

	db, err := relaystore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := relaystore.Migrate(db); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	store := relaystore.New(db)

	metrics.MustRegister()

	signer, err := jwtsigner.NewFromBase64(cfg.PairingSigningKey, cfg.PairingKeyID, cfg.PairingIssuer)
	if err != nil {
		log.Error("failed to init pairing token signer", "error", err)
		os.Exit(1)
	}
	tokenIssuer := pairing.NewTokenIssuer(signer)

	verifier := &reqauth.Verifier{Lookup: identityLookup(store)}

	deps := &relay.Deps{
		Store:    store,
		Verifier: verifier,
		Pairing:  tokenIssuer,
		Log:      log,
	}

	handler := relay.NewRouter(deps, cfg.CORSOrigins, cfg.RateLimitPerMinute)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go purgeExpiredMessagesLoop(store, log)

	log.Info("relay listening", "addr", cfg.Addr, "db_driver", cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("relay server stopped", "error", err)
		os.Exit(1)
	}
}

// identityLookup adapts the relay's base64-stored identity public keys
// to the fixed-size domain.Ed25519Public the request authenticator (C5)
// verifies against.
func identityLookup(store *relaystore.Store) reqauth.IdentityKeyLookup {
	return func(ctx context.Context, moltbotID string) (domain.Ed25519Public, bool) {
		encoded, ok := store.Identities().PublicKeyLookup(ctx, moltbotID)
		if !ok {
			return domain.Ed25519Public{}, false
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(raw) != len(domain.Ed25519Public{}) {
			return domain.Ed25519Public{}, false
		}
		var pub domain.Ed25519Public
		copy(pub[:], raw)
		return pub, true
	}
}

// purgeExpiredMessagesLoop hard-deletes disappearing messages past their
// expiresAt on a fixed interval (§5 — "periodically hard-deleted").
func purgeExpiredMessagesLoop(store *relaystore.Store, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		n, err := store.Messages().PurgeExpired(context.Background())
		if err != nil {
			log.Warn("purge expired messages failed", "error", err)
			continue
		}
		if n > 0 {
			log.Info("purged expired messages", "count", n)
		}
	}
}
