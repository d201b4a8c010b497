package workflow

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type OutboxMetrics struct {
	publishes *prometheus.CounterVec
	backlog   *prometheus.GaugeVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Ledger outbox publish attempts by result.",
		}, []string{"result"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cashier",
			Subsystem: "outbox",
			Name:      "records",
			Help:      "Ledger outbox rows by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.publishes, m.backlog)
	}
	return m
}

func (m *OutboxMetrics) published(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

type statusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// RefreshBacklog sets the per-status gauge from the outbox table.
func (m *OutboxMetrics) RefreshBacklog(ctx context.Context, counter statusCounter) error {
	if m == nil || counter == nil {
		return nil
	}
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		return err
	}
	m.backlog.Reset()
	for status, n := range counts {
		m.backlog.WithLabelValues(status).Set(float64(n))
	}
	return nil
}
