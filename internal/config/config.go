// Package config loads relay configuration from the environment, falling
// back to .env via godotenv for local development (mirrors the auth
// service's env-first loader).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr string

	// DBDriver selects the gorm dialector: "postgres" or "sqlite". The
	// relay's storage backend is a tagged-variant choice made once here,
	// not a runtime-dispatched plugin (§9).
	DBDriver string
	DBDSN    string

	CORSOrigins []string

	// RateLimitPerMinute bounds requests per X-Moltbot-Id (§6 — "100
	// req/min per id"), not per IP: a moltbot behind shared NAT or a relay
	// fronted by multiple client IPs must not share or dodge another
	// identity's budget.
	RateLimitPerMinute int

	// PairingTokenTTL is loaded from the environment but not read by the
	// relay: device-pairing tokens always last pairing.DefaultTTL.
	PairingTokenTTL time.Duration

	LogLevel string
	Env      string

	// PairingSigningKey is a base64-encoded Ed25519 private key the relay
	// uses to sign and verify its own short-lived pairing tokens (§4.6).
	// Empty generates an ephemeral key at startup — fine for local dev, but
	// a restart invalidates any pairing in flight.
	PairingSigningKey string
	PairingKeyID      string
	PairingIssuer     string
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		DBDriver:           getenv("DB_DRIVER", "sqlite"),
		DBDSN:              getenv("DB_DSN", "moltdm.db"),
		CORSOrigins:        splitCSV(getenv("CORS_ORIGINS", "*")),
		RateLimitPerMinute: getenvInt("RATE_LIMIT_PER_MINUTE", 100),
		PairingTokenTTL:    getenvDuration("PAIRING_TOKEN_TTL", 5*time.Minute),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		Env:                getenv("ENV", "development"),
		PairingSigningKey:  getenv("PAIRING_SIGNING_KEY", ""),
		PairingKeyID:       getenv("PAIRING_KEY_ID", "relay-1"),
		PairingIssuer:      getenv("PAIRING_ISSUER", "moltdm-relay"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
