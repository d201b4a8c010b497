package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	operations     *prometheus.CounterVec
	replayDuration prometheus.Histogram
	cacheResults   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cashier_ledger_operations_total",
			Help: "Ledger operations by operation and result (ok or the rejection kind)",
		}, []string{"operation", "result"}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashier_ledger_replay_duration_seconds",
			Help:    "Time spent loading and folding a register's events",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cashier_ledger_replay_cache_total",
			Help: "Replay cache lookups by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.replayDuration, m.cacheResults)
	}
	return m
}

func (m *Metrics) operation(op string, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) replayed(started time.Time) {
	if m == nil {
		return
	}
	m.replayDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) cache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheResults.WithLabelValues("hit").Inc()
		return
	}
	m.cacheResults.WithLabelValues("miss").Inc()
}
