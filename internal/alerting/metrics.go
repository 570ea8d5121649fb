package alerting

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProcessedTotal   *prometheus.CounterVec
	ProcessDuration  prometheus.Histogram
	ClusterTotal     *prometheus.CounterVec
	BestSimilarity   prometheus.Histogram
	CandidateCount   prometheus.Histogram
	TransitionsTotal *prometheus.CounterVec
	SweepItemsTotal  *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec
	DeactivatedTotal prometheus.Counter
	ConflictRetries  prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_processed_total",
			Help: "Total alert submissions by outcome.",
		}, []string{"outcome"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_alert_process_duration_seconds",
			Help:    "Duration of one dedup/correlate/cluster unit in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}),
		ClusterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cluster_decisions_total",
			Help: "Clustering decisions by outcome (created, joined, suppressed).",
		}, []string{"outcome"}),
		BestSimilarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_cluster_best_similarity",
			Help:    "Best cosine similarity found per clustered alert.",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21), // 0 .. 1
		}),
		CandidateCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_cluster_candidates",
			Help:    "Candidate clusters scanned per clustered alert.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 .. 1024
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_transitions_total",
			Help: "State machine transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		SweepItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_sweep_items_total",
			Help: "Alerts handled by periodic sweeps by sweep and result.",
		}, []string{"sweep", "result"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_sweep_duration_seconds",
			Help:    "Duration of periodic sweeps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"sweep"}),
		DeactivatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_clusters_deactivated_total",
			Help: "Total clusters deactivated for staleness.",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_dedup_conflict_retries_total",
			Help: "Inserts that lost the fingerprint race and were retried as a dedup lookup.",
		}),
	}

	reg.MustRegister(
		m.ProcessedTotal,
		m.ProcessDuration,
		m.ClusterTotal,
		m.BestSimilarity,
		m.CandidateCount,
		m.TransitionsTotal,
		m.SweepItemsTotal,
		m.SweepDuration,
		m.DeactivatedTotal,
		m.ConflictRetries,
	)

	return m
}

func (m *Metrics) processed(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.ProcessedTotal.WithLabelValues(string(outcome)).Inc()
	if seconds > 0 {
		m.ProcessDuration.Observe(seconds)
	}
}

func (m *Metrics) clustered(outcome string, best float64, candidates int) {
	if m == nil {
		return
	}
	m.ClusterTotal.WithLabelValues(outcome).Inc()
	m.BestSimilarity.Observe(best)
	m.CandidateCount.Observe(float64(candidates))
}

func (m *Metrics) transition(action Action, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) sweep(name string, s SweepSummary, seconds float64) {
	if m == nil {
		return
	}
	m.SweepItemsTotal.WithLabelValues(name, "succeeded").Add(float64(s.Succeeded))
	m.SweepItemsTotal.WithLabelValues(name, "skipped").Add(float64(s.Skipped))
	m.SweepItemsTotal.WithLabelValues(name, "failed").Add(float64(s.Failed))
	m.SweepDuration.WithLabelValues(name).Observe(seconds)
}

func (m *Metrics) deactivated(n int) {
	if m == nil {
		return
	}
	m.DeactivatedTotal.Add(float64(n))
}

func (m *Metrics) conflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}
