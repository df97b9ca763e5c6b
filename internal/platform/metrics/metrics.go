package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ChallengesIssued  prometheus.Counter
	Verifications     *prometheus.CounterVec
	ClaimsAttempted   prometheus.Counter
	ClaimsByOutcome   *prometheus.CounterVec
	ClaimCASConflicts prometheus.Counter
	ClaimEventsSent   prometheus.Counter
	EndpointLatency   *prometheus.HistogramVec
	OracleFailures    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ganamos_l402_challenges_issued_total",
			Help: "Total number of L402 payment challenges issued",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ganamos_l402_verifications_total",
			Help: "Total number of credential verifications, labeled by outcome",
		}, []string{"outcome"}),
		ClaimsAttempted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ganamos_job_claims_attempted_total",
			Help: "Total number of job claim attempts",
		}),
		ClaimsByOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ganamos_job_claims_total",
			Help: "Total number of job claim results, labeled by outcome",
		}, []string{"outcome"}),
		ClaimCASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ganamos_job_claim_cas_conflicts_total",
			Help: "Claim attempts that lost the conditional write race",
		}),
		ClaimEventsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ganamos_job_claim_events_sent_total",
			Help: "Claim events published downstream",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ganamos_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		OracleFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ganamos_settlement_oracle_failures_total",
			Help: "Failed calls to the settlement backend",
		}),
	}
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}

// IncVerification records a verification outcome ("ok" or a failure reason tag).
func (m *Metrics) IncVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

// IncClaim records a claim outcome ("ok" or a rejection reason tag).
func (m *Metrics) IncClaim(outcome string) {
	m.ClaimsByOutcome.WithLabelValues(outcome).Inc()
}
