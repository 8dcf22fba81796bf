package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropReasonQueueFull  = "queue_full"
	dropReasonTerminated = "hub_terminated"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Peers         prometheus.Gauge
	BytesRelayed  prometheus.Counter
	WriteErrors   prometheus.Counter
	SkippedWrites prometheus.Counter
	DroppedEvents *prometheus.CounterVec
	AcceptErrors  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "peers",
			Help:      "Number of peers currently registered with the hub.",
		}),
		BytesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "bytes_relayed_total",
			Help:      "Bytes successfully written to peers during fan-out.",
		}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "write_errors_total",
			Help:      "Fan-out writes that failed.",
		}),
		SkippedWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "skipped_writes_total",
			Help:      "Fan-out writes skipped because the peer is stalled.",
		}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dropped_events_total",
			Help:      "Data events dropped before reaching the hub.",
		}, []string{"reason"}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "accept_errors_total",
			Help:      "Failed accept calls on the listening socket.",
		}),
	}
}
