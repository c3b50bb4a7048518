package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	LeadsScheduled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leads_scheduled_total", Help: "Leads written with a release time"})
	CandidatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lead_candidates_dropped_total", Help: "Candidates removed before scheduling"}, []string{"reason"})
	BatchSize         = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lead_batch_size",
		Help:    "Leads per scheduled batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
	GenerationRuns    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lead_generation_runs_total", Help: "Lead generation runs by trigger and outcome"}, []string{"trigger", "outcome"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "lead_generation_rate_limit_rejects_total", Help: "Generation requests rejected by rate limiter"})
	SweepFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_failures_total", Help: "Sweep targets that failed and will retry"})
	SweepDeadLetter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_dead_letter_total", Help: "Sweep targets moved to the DLQ"})
	SweepQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sweep_queue_depth", Help: "Sweep targets ready to run"})
	SweepInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sweep_inflight", Help: "Sweep targets currently leased"})
	WebhookEvents     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "billing_webhook_events_total", Help: "Billing webhook deliveries by provider and outcome"}, []string{"provider", "outcome"})
	ArtifactFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_artifact_failures_total", Help: "Run artifacts that could not be written"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			LeadsScheduled,
			CandidatesDropped,
			BatchSize,
			GenerationRuns,
			RateLimitRejects,
			SweepFailures,
			SweepDeadLetter,
			SweepQueueDepth,
			SweepInFlight,
			WebhookEvents,
			ArtifactFailures,
		)
	})
	return promhttp.Handler()
}
