// Package metrics exposes coordinator activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet_traffic/internal/domain"
)

const (
	namespace = "fleet"
	subsystem = "coordinator"
)

// Collector owns a private registry so tests and multiple services never
// collide on registration.
type Collector struct {
	registry *prometheus.Registry

	ticksTotal    prometheus.Counter
	tickDuration  prometheus.Histogram
	decisions     *prometheus.CounterVec
	deadlocks     prometheus.Counter
	heals         prometheus.Counter
	agents        prometheus.Gauge
	agentsByState *prometheus.GaugeVec
	events        *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of coordination ticks run",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside one coordination tick",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decisions_total",
			Help:      "Move decisions by outcome",
		}, []string{"outcome"}),
		deadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deadlocks_total",
			Help:      "Wait-for cycles detected",
		}),
		heals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_heals_total",
			Help:      "Lane queue entries repaired during resync",
		}),
		agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "agents",
			Help:      "Agents seen by the last tick",
		}),
		agentsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "agents_by_status",
			Help:      "Agents per status after the last tick",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Fleet events emitted by kind",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(
		c.ticksTotal,
		c.tickDuration,
		c.decisions,
		c.deadlocks,
		c.heals,
		c.agents,
		c.agentsByState,
		c.events,
	)
	return c
}

func (c *Collector) ObserveTick(report domain.TickReport) {
	c.ticksTotal.Inc()
	c.tickDuration.Observe(report.Duration.Seconds())
	c.decisions.WithLabelValues("granted").Add(float64(report.Granted))
	c.decisions.WithLabelValues("denied").Add(float64(report.Denied))
	c.decisions.WithLabelValues("resumed").Add(float64(report.Resumed))
	c.decisions.WithLabelValues("released").Add(float64(report.Released))
	c.deadlocks.Add(float64(report.Deadlocks))
	c.heals.Add(float64(report.Healed))
	c.agents.Set(float64(report.Agents))
}

func (c *Collector) RecordEvents(events []domain.Event) {
	for _, evt := range events {
		c.events.WithLabelValues(string(evt.Kind)).Inc()
	}
}

// SetStatusCounts replaces the per-status gauge. Statuses missing from
// counts drop to zero.
func (c *Collector) SetStatusCounts(counts map[string]int) {
	c.agentsByState.Reset()
	for status, n := range counts {
		c.agentsByState.WithLabelValues(status).Set(float64(n))
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
