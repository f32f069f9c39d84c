package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine events. Per-packet and per-message faults are
// recovered locally; these counters are how bounded, expected conditions
// (capacity evictions, reassembly timeouts, resends) stay visible.
//
// A nil *Metrics is valid and counts nothing, so hot paths call the Inc
// helpers unconditionally.
type Metrics struct {
	packetsSent        prometheus.Counter
	packetsReceived    prometheus.Counter
	malformedPackets   prometheus.Counter
	conditionerDrops   prometheus.Counter
	resyncs            prometheus.Counter
	resends            *prometheus.CounterVec
	capacityEvictions  *prometheus.CounterVec
	reassemblyTimeouts *prometheus.CounterVec
}

// NewMetrics registers the engine counters on reg. A nil reg registers on a
// private registry, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		packetsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "tickwire_packets_sent_total",
			Help: "Packets handed to the transport sender.",
		}),
		packetsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "tickwire_packets_received_total",
			Help: "Packets accepted from the transport receiver.",
		}),
		malformedPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "tickwire_malformed_packets_total",
			Help: "Packets dropped due to a header or payload decode failure.",
		}),
		conditionerDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "tickwire_conditioner_dropped_total",
			Help: "Inbound packets dropped by the simulated link conditioner.",
		}),
		resyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "tickwire_sync_resyncs_total",
			Help: "Times tick drift forced the sync manager back into syncing.",
		}),
		resends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwire_resends_total",
			Help: "Reliable payload retransmissions.",
		}, []string{"kind"}),
		capacityEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwire_capacity_evictions_total",
			Help: "Entries dropped from bounded buffers (reorder, tick, input).",
		}, []string{"kind"}),
		reassemblyTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwire_reassembly_timeouts_total",
			Help: "Incomplete unreliable fragment sets discarded.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncPacketsSent() {
	if m != nil {
		m.packetsSent.Inc()
	}
}

func (m *Metrics) IncPacketsReceived() {
	if m != nil {
		m.packetsReceived.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.malformedPackets.Inc()
	}
}

func (m *Metrics) IncConditionerDrop() {
	if m != nil {
		m.conditionerDrops.Inc()
	}
}

func (m *Metrics) IncResync() {
	if m != nil {
		m.resyncs.Inc()
	}
}

func (m *Metrics) IncResend(kind string) {
	if m != nil {
		m.resends.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncCapacityEviction(kind string) {
	if m != nil {
		m.capacityEvictions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncReassemblyTimeout(kind string) {
	if m != nil {
		m.reassemblyTimeouts.WithLabelValues(kind).Inc()
	}
}
