// Package metrics exposes Prometheus counters for the matching pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. A single instance is created in main
// and threaded through constructors so tests can use their own registry.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	Candidates        *prometheus.CounterVec
	VerifierFailures  prometheus.Counter
	FallbacksApplied  prometheus.Counter
	NotificationsSent prometheus.Counter
	CacheReloads      prometheus.Counter
}

// New registers the pipeline counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_messages_processed_total",
			Help: "Messages fed through the matching pipeline.",
		}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupwatch_candidates_total",
			Help: "Scored (message, subscription) pairs by outcome.",
		}, []string{"result"}),
		VerifierFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_verifier_failures_total",
			Help: "Verifier calls that failed after all retries.",
		}),
		FallbacksApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_fallbacks_applied_total",
			Help: "Candidates decided by the score-threshold fallback.",
		}),
		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_notifications_sent_total",
			Help: "Notifier invocations.",
		}),
		CacheReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_subscription_cache_reloads_total",
			Help: "Subscription cache reloads from storage.",
		}),
	}
}

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
