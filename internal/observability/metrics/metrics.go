// Package metrics holds the relay's prometheus collectors. Crypto-core
// operations deliberately publish no metrics of their own: a histogram
// bucketed by conversation id would itself be a metadata leak, so only
// the relay's transport-layer counters are instrumented.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltdm_http_requests_total",
			Help: "Total relay HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moltdm_http_request_duration_seconds",
			Help:    "Relay HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltdm_auth_attempts_total",
			Help: "Request-authenticator outcomes (C5), labeled by result.",
		},
		[]string{"result"},
	)

	MessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltdm_messages_relayed_total",
			Help: "Opaque ciphertext messages accepted by the relay.",
		},
		[]string{"conversation_kind"},
	)

	SenderKeyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltdm_sender_key_rotations_total",
			Help: "Sending-chain rotations, labeled by trigger (peer_removed, self_leave).",
		},
		[]string{"trigger"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthAttemptsTotal,
		MessagesRelayedTotal,
		SenderKeyRotationsTotal,
	)
}
