package access

import "github.com/prometheus/client_golang/prometheus"

// Domain metrics. Registered on the default registry so they appear on the
// same /metrics endpoint as the HTTP metrics from internal/obs.
var (
	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tokens_issued_total",
			Help: "Number of JWTs issued, by token class.",
		},
		[]string{"class"},
	)

	otpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_otp_requests_total",
			Help: "Number of OTP requests, by type and result.",
		},
		[]string{"type", "result"},
	)

	resolverCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "access_resolver_cache_hits_total",
			Help: "Number of role resolutions served from the scope cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(tokensIssuedTotal, otpRequestsTotal, resolverCacheHits)
}
