package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus instruments.
type Metrics struct {
	Members          prometheus.Gauge
	Rooms            prometheus.Gauge
	Relays           prometheus.Gauge
	ForwardedPackets prometheus.Counter
	Kicks            prometheus.Counter
	JoinsRejected    *prometheus.CounterVec
	SignalMessages   *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Members: f.NewGauge(prometheus.GaugeOpts{
			Name: "videoroom_members",
			Help: "Members currently joined to a channel",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "videoroom_rooms",
			Help: "Channels with at least one member",
		}),
		Relays: f.NewGauge(prometheus.GaugeOpts{
			Name: "videoroom_relays_active",
			Help: "Published tracks currently relayed",
		}),
		ForwardedPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "videoroom_rtp_packets_forwarded_total",
			Help: "RTP packets written to subscriber tracks",
		}),
		Kicks: f.NewCounter(prometheus.CounterOpts{
			Name: "videoroom_members_kicked_total",
			Help: "Members removed by the server",
		}),
		JoinsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "videoroom_joins_rejected_total",
			Help: "Join requests refused, by reason",
		}, []string{"reason"}),
		SignalMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "videoroom_signal_messages_total",
			Help: "Signaling messages received, by type",
		}, []string{"type"}),
	}
}
