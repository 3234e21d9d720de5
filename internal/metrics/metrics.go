// Package metrics exposes Prometheus counters for the capture path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the capture-path counters. A single instance is
// created at startup and injected into the components that need it.
type Metrics struct {
	InteractionsRecorded *prometheus.CounterVec
	RuleHits             prometheus.Counter
	RuleMisses           prometheus.Counter
	ExfilSignals         prometheus.Counter
	UnknownTokens        prometheus.Counter
}

// New registers the capture counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InteractionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbackd_interactions_recorded_total",
			Help: "Interactions durably recorded, by capture protocol.",
		}, []string{"protocol"}),
		RuleHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbackd_rule_hits_total",
			Help: "PoC rule renders served.",
		}),
		RuleMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbackd_rule_misses_total",
			Help: "Requests under the PoC prefix with no matching active rule.",
		}),
		ExfilSignals: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbackd_exfil_signals_total",
			Help: "Interactions carrying the data-exfiltration marker.",
		}),
		UnknownTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbackd_unknown_tokens_total",
			Help: "Capture requests for token codes that do not exist.",
		}),
	}
}
