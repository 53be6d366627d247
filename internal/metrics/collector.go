package koimetrics

import "github.com/prometheus/client_golang/prometheus"

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "koisyn"
	subsystem = "koi"
)

// Label names for KoiSyn metrics.
const (
	labelState = "state"
	labelLane  = "lane"
	labelKind  = "kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus KoiSyn Metrics
// -------------------------------------------------------------------------

// Collector holds all KoiSyn Prometheus metrics.
//
//   - ActiveSlots tracks how many of the fixed N=16 connection slots are
//     currently in a given FSM state.
//   - HandshakePackets/HandshakeTimeouts track rendezvous health.
//   - BytesSent/BytesReceived track reliable/unreliable payload volume.
//   - PendingBufferRefs tracks the outstanding two-pass send-buffer
//     refcount, the §9 invariant this module is built around.
type Collector struct {
	// ActiveSlots tracks the number of connection slots currently in each
	// FSM state (§3's fixed N=16 table).
	ActiveSlots *prometheus.GaugeVec

	// HandshakePackets counts rendezvous packets sent, labeled by kind
	// (packet1/packet2/packet3/firewall_challenge).
	HandshakePackets *prometheus.CounterVec

	// HandshakeTimeouts counts retry-daemon giveups, labeled by kind
	// (short/long per §4.6's tri-state timeout).
	HandshakeTimeouts *prometheus.CounterVec

	// BytesSent counts payload bytes submitted per lane (the four reliable
	// lanes plus "unreliable").
	BytesSent *prometheus.CounterVec

	// BytesReceived counts payload bytes delivered per lane.
	BytesReceived *prometheus.CounterVec

	// StreamCorruptions counts reassembly-gap hard resets (§4.7
	// "stream receive... this indicates corrupt state").
	StreamCorruptions prometheus.Counter

	// PendingBufferRefs tracks the live RawSendBuffer refcount sum across
	// all in-flight twinned sends (§9's two-pass protocol).
	PendingBufferRefs prometheus.Gauge
}

// NewCollector creates a Collector with all KoiSyn metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveSlots,
		c.HandshakePackets,
		c.HandshakeTimeouts,
		c.BytesSent,
		c.BytesReceived,
		c.StreamCorruptions,
		c.PendingBufferRefs,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		ActiveSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_slots",
			Help:      "Number of connection slots currently in each FSM state.",
		}, []string{labelState}),

		HandshakePackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_packets_total",
			Help:      "Total rendezvous handshake packets sent, by kind.",
		}, []string{labelKind}),

		HandshakeTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_timeouts_total",
			Help:      "Total retry-daemon handshake giveups, by kind (short/long).",
		}, []string{labelKind}),

		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes submitted, by lane.",
		}, []string{labelLane}),

		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes delivered to the application, by lane.",
		}, []string{labelLane}),

		StreamCorruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stream_corruptions_total",
			Help:      "Total reliable-lane reassembly gaps that forced a hard reset.",
		}),

		PendingBufferRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_buffer_refs",
			Help:      "Sum of outstanding RawSendBuffer submission refcounts.",
		}),
	}
}

// -------------------------------------------------------------------------
// Slot lifecycle
// -------------------------------------------------------------------------

// SetActiveSlots sets the gauge for the given FSM state name to count.
// Called after each sweep of the slot table.
func (c *Collector) SetActiveSlots(state string, count float64) {
	c.ActiveSlots.WithLabelValues(state).Set(count)
}

// -------------------------------------------------------------------------
// Handshake
// -------------------------------------------------------------------------

// IncHandshakePacket increments the handshake packet counter for kind
// ("packet1", "packet2", "packet3", "firewall_challenge").
func (c *Collector) IncHandshakePacket(kind string) {
	c.HandshakePackets.WithLabelValues(kind).Inc()
}

// IncHandshakeTimeout increments the handshake timeout counter for kind
// ("short", "long").
func (c *Collector) IncHandshakeTimeout(kind string) {
	c.HandshakeTimeouts.WithLabelValues(kind).Inc()
}

// -------------------------------------------------------------------------
// Data volume
// -------------------------------------------------------------------------

// AddBytesSent adds n to the sent-bytes counter for the given lane label
// ("lane0".."lane3" or "unreliable").
func (c *Collector) AddBytesSent(lane string, n int) {
	c.BytesSent.WithLabelValues(lane).Add(float64(n))
}

// AddBytesReceived adds n to the received-bytes counter for the given lane
// label.
func (c *Collector) AddBytesReceived(lane string, n int) {
	c.BytesReceived.WithLabelValues(lane).Add(float64(n))
}

// IncStreamCorruptions increments the reassembly-gap counter.
func (c *Collector) IncStreamCorruptions() {
	c.StreamCorruptions.Inc()
}

// -------------------------------------------------------------------------
// Send buffer refcount
// -------------------------------------------------------------------------

// SetPendingBufferRefs sets the outstanding-refcount gauge to n.
func (c *Collector) SetPendingBufferRefs(n float64) {
	c.PendingBufferRefs.Set(n)
}
