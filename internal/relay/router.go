package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keikumata/moltdm/internal/reqauth"
)

// NewRouter assembles the relay's HTTP surface. Public and authenticated
// endpoints live in two separate chi sub-routers mounted under /api —
// not one router with a route-pattern-conditioned middleware — because
// chi.RouteContext(r.Context()).RoutePattern() is only populated once
// routing has matched, so a top-level r.Use() can never see it; splitting
// by sub-router lets the authenticated side use an unconditional
// Verifier.Require instead of guessing at match time.
func NewRouter(d *Deps, corsOrigins []string, rateLimitPerMinute int) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{reqauth.HeaderMoltbotID, reqauth.HeaderTimestamp, reqauth.HeaderSignature, "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Logger)
	r.Use(withMetrics)
	if rateLimitPerMinute > 0 {
		r.Use(httprate.Limit(
			rateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(keyByMoltbotIDOrIP),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Group(func(pub chi.Router) {
			pub.Post("/identity/register", d.handleRegisterIdentity)
			pub.Get("/identity/{id}", d.handleGetIdentity)
			pub.Get("/identity/{id}/prekey", d.handleConsumePreKey)
			pub.Post("/pair/submit", d.handleSubmitPairing)
			pub.Get("/pair/status/{token}", d.handlePairingStatus)
		})

		api.Group(func(auth chi.Router) {
			auth.Use(func(next http.Handler) http.Handler { return d.Verifier.Require(next) })

			auth.Post("/identity/{id}/prekeys", d.handleAppendPreKeys)

			auth.Post("/conversations", d.handleCreateConversation)
			auth.Get("/conversations/{id}", d.handleGetConversation)
			auth.Patch("/conversations/{id}", d.handlePatchConversation)
			auth.Delete("/conversations/{id}", d.handleDeleteConversation)
			auth.Post("/conversations/{id}/members", d.handleAddMember)
			auth.Delete("/conversations/{id}/members/{mid}", d.handleRemoveMember)
			auth.Post("/conversations/{id}/admins", d.handleAddAdmin)
			auth.Delete("/conversations/{id}/admins/{mid}", d.handleRemoveAdmin)
			auth.Get("/conversations/{id}/events", d.handleListMembershipEvents)

			auth.Post("/conversations/{id}/messages", d.handlePostMessage)
			auth.Get("/conversations/{id}/messages", d.handleListMessages)

			auth.Post("/pair/initiate", d.handleInitiatePairing)
			auth.Post("/pair/{token}/claim", d.handleClaimPairing)
		})
	})

	return r
}

func keyByMoltbotIDOrIP(r *http.Request) (string, error) {
	if id := r.Header.Get(reqauth.HeaderMoltbotID); id != "" {
		return id, nil
	}
	return httprate.KeyByIP(r)
}
