package tmorchestrator

import (
	"time"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec

	heightsStarted prometheus.Counter
	currentHeight  prometheus.Gauge

	decisions prometheus.Counter
	pruned    prometheus.Counter
}

// NewMetrics creates the orchestrator collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const ns, sub = "gsequencer", "orchestrator"

	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pipeline_outcomes_total",
			Help: "Build and validate pipelines by outcome.",
		}, []string{"pipeline", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "pipeline_duration_seconds",
			Help:    "Time from pipeline start to its result.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"pipeline"}),

		heightsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "heights_started_total",
			Help: "Heights announced to the builder.",
		}),
		currentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "current_height",
			Help: "Height most recently announced to the builder.",
		}),

		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "decisions_total",
			Help: "Decisions accepted by the builder.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "stored_proposals_pruned_total",
			Help: "Completed proposals discarded after a decision.",
		}),
	}

	var err error
	for _, c := range []prometheus.Collector{
		m.outcomes, m.durations,
		m.heightsStarted, m.currentHeight,
		m.decisions, m.pruned,
	} {
		if regErr := reg.Register(c); regErr != nil {
			err = multierror.Append(err, regErr)
		}
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) observeOutcome(pipeline string, o tmconsensus.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(pipeline, o.String()).Inc()
	m.durations.WithLabelValues(pipeline).Observe(d.Seconds())
}

func (m *Metrics) observeAbandoned(pipeline string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(pipeline, "abandoned").Inc()
	m.durations.WithLabelValues(pipeline).Observe(d.Seconds())
}

func (m *Metrics) heightStarted(h uint64) {
	if m == nil {
		return
	}
	m.heightsStarted.Inc()
	m.currentHeight.Set(float64(h))
}

func (m *Metrics) decision() {
	if m == nil {
		return
	}
	m.decisions.Inc()
}

func (m *Metrics) prunedProposals(n int) {
	if m == nil {
		return
	}
	m.pruned.Add(float64(n))
}
