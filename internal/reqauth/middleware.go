package reqauth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/keikumata/moltdm/internal/observability/metrics"
)

// MaxBodyBytes is the relay's maximum accepted request body (§6 — "Max
// body 256 KiB"). A larger body is rejected before the handler, and
// before the bytes are hashed for signature verification.
const MaxBodyBytes = 256 * 1024

type moltbotIDKey struct{}

// MoltbotIDFromContext returns the moltbotId authenticated by Require,
// or "" if the request reached the handler without passing through it
// (i.e. a public endpoint).
func MoltbotIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(moltbotIDKey{}).(string)
	return v
}

// Require unconditionally verifies every request that reaches it; mount
// it only on a sub-router already restricted to authenticated routes
// (the relay's router keeps public and authenticated endpoints in
// separate chi groups for exactly this reason).
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.require(w, r, next)
	})
}

func (v *Verifier) require(w http.ResponseWriter, r *http.Request, next http.Handler) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("reqauth body read failed", "error", err, "path", r.URL.Path)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	moltbotID, err := v.Verify(r.Context(), r, body)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrMissingHeader) || errors.Is(err, ErrMalformedTimestamp) || errors.Is(err, ErrMalformedSignature) {
			status = http.StatusBadRequest
		}
		metrics.AuthAttemptsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("reqauth rejected request", "error", err, "path", r.URL.Path, "moltbot_id", r.Header.Get(HeaderMoltbotID))
		// §7: reject, log at info/warn, but never leak which check failed —
		// the response body must not let a caller distinguish unknown id
		// from bad signature from stale timestamp.
		http.Error(w, "authentication failed", status)
		return
	}
	metrics.AuthAttemptsTotal.WithLabelValues("accepted").Inc()

	ctx := context.WithValue(r.Context(), moltbotIDKey{}, moltbotID)
	next.ServeHTTP(w, r.WithContext(ctx))
}
