package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the consent core.
type Metrics struct {
	TokensIssued      prometheus.Counter
	TokensRevoked     *prometheus.CounterVec
	Validations       *prometheus.CounterVec
	AuditAppends      prometheus.Counter
	AuditAppendFailed prometheus.Counter
	RequestLatency    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "katha_consent_tokens_issued_total",
			Help: "Total consent tokens issued",
		}),
		TokensRevoked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "katha_consent_tokens_revoked_total",
			Help: "Total revocation requests by outcome",
		}, []string{"outcome"}),
		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "katha_consent_validations_total",
			Help: "Total token validations by outcome",
		}, []string{"outcome"}),
		AuditAppends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "katha_audit_appends_total",
			Help: "Total audit ledger appends",
		}),
		AuditAppendFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "katha_audit_append_failures_total",
			Help: "Audit appends that failed and aborted their operation",
		}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "katha_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ValidationOutcome labels for the Validations counter.
const (
	OutcomeValid        = "valid"
	OutcomeBadSignature = "bad_signature"
	OutcomeExpired      = "expired"
	OutcomeRevoked      = "revoked"
	OutcomeError        = "error"
)
