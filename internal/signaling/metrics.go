package signaling

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hub's prometheus collectors.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Relayed     *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warpcall",
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warpcall",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpcall",
			Name:      "relayed_messages_total",
			Help:      "Signaling messages forwarded to a room member.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpcall",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped by the hub.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.Connections, m.Rooms, m.Relayed, m.Dropped)
	}
	return m
}
