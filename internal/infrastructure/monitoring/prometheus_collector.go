package monitoring

import (
	"time"

	"rendezvous/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive prometheus.Gauge
	usersRegistered   prometheus.Gauge

	// Counters
	connectionsTotal   prometheus.Counter
	signalsRelayed     *prometheus.CounterVec
	signalsDropped     *prometheus.CounterVec
	presenceBroadcasts prometheus.Counter
	presenceRecipients prometheus.Counter
	connectionsEvicted *prometheus.CounterVec

	// Histograms
	connectionDuration prometheus.Histogram
	sweepDuration      prometheus.Histogram
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the relay metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_connections_active",
			Help: "Number of live signaling connections",
		}),

		usersRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_users_registered",
			Help: "Number of connections with a registered display name",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_connections_total",
			Help: "Total number of signaling connections accepted",
		}),

		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_signals_relayed_total",
			Help: "Negotiation messages delivered to their target",
		}, []string{"type"}),

		signalsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_signals_dropped_total",
			Help: "Negotiation messages that could not be delivered",
		}, []string{"type", "reason"}),

		presenceBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_presence_broadcasts_total",
			Help: "Number of users_updated broadcasts",
		}),

		presenceRecipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_presence_recipients_total",
			Help: "Total users_updated events enqueued across all broadcasts",
		}),

		connectionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_connections_evicted_total",
			Help: "Connections removed by the liveness sweep",
		}, []string{"reason"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rendezvous_connection_duration_seconds",
			Help:    "Lifetime of signaling connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rendezvous_sweep_duration_seconds",
			Help:    "Duration of liveness sweeps",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.connectionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) Registered(count int) {
	p.usersRegistered.Set(float64(count))
}

func (p *PrometheusCollector) SignalRelayed(messageType string) {
	p.signalsRelayed.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) SignalDropped(messageType, reason string) {
	p.signalsDropped.WithLabelValues(messageType, reason).Inc()
}

func (p *PrometheusCollector) PresenceBroadcast(recipients int) {
	p.presenceBroadcasts.Inc()
	p.presenceRecipients.Add(float64(recipients))
}

func (p *PrometheusCollector) ConnectionEvicted(reason string) {
	p.connectionsEvicted.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SweepCompleted(duration time.Duration) {
	p.sweepDuration.Observe(duration.Seconds())
}
