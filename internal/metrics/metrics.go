package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the host.
type Metrics struct {
	registry *prometheus.Registry

	// Agent turn metrics
	TurnsStartedTotal prometheus.Counter
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram

	// Tool metrics
	ToolExecutionsTotal *prometheus.CounterVec

	// Hook metrics
	HookFailuresTotal *prometheus.CounterVec

	// Channel metrics
	ChannelInboundTotal  *prometheus.CounterVec
	ChannelOutboundTotal *prometheus.CounterVec

	// Discovery metrics
	ProbesTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_turns_started_total",
				Help: "Total number of agent turns started",
			},
		),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_turns_total",
				Help: "Total number of agent turns by terminal state",
			},
			[]string{"state"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_turn_duration_seconds",
				Help:    "Duration of agent turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool", "status"},
		),

		HookFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_failures_total",
				Help: "Total number of hook handler failures",
			},
			[]string{"event"},
		),

		ChannelInboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_inbound_messages_total",
				Help: "Total number of inbound channel messages",
			},
			[]string{"channel"},
		),
		ChannelOutboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_outbound_messages_total",
				Help: "Total number of outbound channel messages",
			},
			[]string{"channel"},
		),

		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "endpoint_probes_total",
				Help: "Total number of endpoint health probes",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.TurnsStartedTotal,
		m.TurnsTotal,
		m.TurnDuration,
		m.ToolExecutionsTotal,
		m.HookFailuresTotal,
		m.ChannelInboundTotal,
		m.ChannelOutboundTotal,
		m.ProbesTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
