// Package metrics exposes workflow progress as Prometheus collectors.
//
// The orchestrator already records OTEL metrics; this package serves the
// pull-based /metrics endpoint by listening to the event stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/events"
)

const (
	namespace = "agentflow"
)

// Collector turns orchestration events into Prometheus series.
// It implements events.Sink.
type Collector struct {
	// StagesTotal counts stages reaching a terminal state.
	// Labels: outcome (completed, skipped, rejected, capacity, timeout, invalid_output, stopped, error)
	StagesTotal *prometheus.CounterVec

	// SessionsTotal counts finished sessions.
	// Labels: status (completed, error, cancelled)
	SessionsTotal *prometheus.CounterVec

	// HandoffsTotal counts compressed handoffs.
	HandoffsTotal prometheus.Counter

	// HandoffTokens tracks the estimated size of each handoff.
	HandoffTokens prometheus.Histogram

	// PendingValidations is the number of stages awaiting a reviewer.
	PendingValidations prometheus.Gauge

	// SessionRunning is 1 while a session is in flight.
	SessionRunning prometheus.Gauge
}

// NewCollector registers collectors on reg. A nil reg uses the default
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		StagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "terminal_total",
				Help:      "Stages reaching a terminal state, by outcome",
			},
			[]string{"outcome"},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "finished_total",
				Help:      "Sessions finished, by final status",
			},
			[]string{"status"},
		),
		HandoffsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handoff",
				Name:      "total",
				Help:      "Total number of compressed handoffs",
			},
		),
		HandoffTokens: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "handoff",
				Name:      "tokens",
				Help:      "Estimated tokens per compressed handoff",
				Buckets:   []float64{50, 100, 250, 500, 1000, 2000},
			},
		),
		PendingValidations: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "pending",
				Help:      "Stages awaiting human validation",
			},
		),
		SessionRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "running",
				Help:      "1 while a session is running (1=running, 0=idle)",
			},
		),
	}
}

// Emit implements events.Sink.
func (c *Collector) Emit(e events.Event) {
	switch e.Type {
	case events.SessionStarted:
		c.SessionRunning.Set(1)
		c.PendingValidations.Set(0)
	case events.SessionCompleted:
		c.SessionRunning.Set(0)
		c.SessionsTotal.WithLabelValues(stringField(e.Data, "status", "completed")).Inc()
	case events.SessionStopped:
		c.SessionRunning.Set(0)
		c.PendingValidations.Set(0)
		c.SessionsTotal.WithLabelValues("cancelled").Inc()
	case events.StageCompleted:
		c.PendingValidations.Dec()
		c.StagesTotal.WithLabelValues("completed").Inc()
	case events.StageSkipped:
		c.StagesTotal.WithLabelValues("skipped").Inc()
	case events.StageFailed:
		outcome := stringField(e.Data, "outcome", "error")
		if outcome == "rejected" {
			c.PendingValidations.Dec()
		}
		c.StagesTotal.WithLabelValues(outcome).Inc()
	case events.ValidationRequired:
		c.PendingValidations.Inc()
	case events.HandoffInitiated:
		c.HandoffsTotal.Inc()
		if n, ok := intField(e.Data, "tokens"); ok {
			c.HandoffTokens.Observe(float64(n))
		}
	}
}

// RegisterPool exposes live agent counts per type from pool.
func RegisterPool(reg prometheus.Registerer, pool *agent.Pool) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return reg.Register(&poolCollector{
		pool: pool,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "agents"),
			"Live agents per type",
			[]string{"type"}, nil,
		),
		limit: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "max_concurrent_agents"),
			"Per-type ceiling on live agents",
			nil, nil,
		),
	})
}

type poolCollector struct {
	pool  *agent.Pool
	desc  *prometheus.Desc
	limit *prometheus.Desc
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
	ch <- p.limit
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for t, n := range p.pool.Counts() {
		ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(n), string(t))
	}
	ch <- prometheus.MustNewConstMetric(p.limit, prometheus.GaugeValue, float64(p.pool.MaxConcurrentAgents()))
}

func stringField(data map[string]any, key, fallback string) string {
	if s, ok := data[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// intField reads a numeric field. Events decoded from JSON carry float64.
func intField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
