package koimetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	koimetrics "github.com/dantte-lp/koisyn/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	if c.ActiveSlots == nil {
		t.Error("ActiveSlots is nil")
	}
	if c.HandshakePackets == nil {
		t.Error("HandshakePackets is nil")
	}
	if c.HandshakeTimeouts == nil {
		t.Error("HandshakeTimeouts is nil")
	}
	if c.BytesSent == nil {
		t.Error("BytesSent is nil")
	}
	if c.BytesReceived == nil {
		t.Error("BytesReceived is nil")
	}
	if c.StreamCorruptions == nil {
		t.Error("StreamCorruptions is nil")
	}
	if c.PendingBufferRefs == nil {
		t.Error("PendingBufferRefs is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestActiveSlots(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	c.SetActiveSlots("Connected", 3)

	val := gaugeValue(t, c.ActiveSlots, "Connected")
	if val != 3 {
		t.Errorf("ActiveSlots(Connected) = %v, want 3", val)
	}

	c.SetActiveSlots("Free", 13)

	val = gaugeValue(t, c.ActiveSlots, "Free")
	if val != 13 {
		t.Errorf("ActiveSlots(Free) = %v, want 13", val)
	}

	// Connected should be unaffected by setting Free.
	val = gaugeValue(t, c.ActiveSlots, "Connected")
	if val != 3 {
		t.Errorf("ActiveSlots(Connected) = %v, want 3 (should be unaffected)", val)
	}
}

func TestHandshakeCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	c.IncHandshakePacket("packet1")
	c.IncHandshakePacket("packet1")
	c.IncHandshakePacket("packet2")

	val := counterValue(t, c.HandshakePackets, "packet1")
	if val != 2 {
		t.Errorf("HandshakePackets(packet1) = %v, want 2", val)
	}

	val = counterValue(t, c.HandshakePackets, "packet2")
	if val != 1 {
		t.Errorf("HandshakePackets(packet2) = %v, want 1", val)
	}

	c.IncHandshakeTimeout("short")
	c.IncHandshakeTimeout("long")
	c.IncHandshakeTimeout("long")

	val = counterValue(t, c.HandshakeTimeouts, "short")
	if val != 1 {
		t.Errorf("HandshakeTimeouts(short) = %v, want 1", val)
	}

	val = counterValue(t, c.HandshakeTimeouts, "long")
	if val != 2 {
		t.Errorf("HandshakeTimeouts(long) = %v, want 2", val)
	}
}

func TestByteCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	c.AddBytesSent("lane0", 100)
	c.AddBytesSent("lane0", 50)
	c.AddBytesSent("unreliable", 20)

	val := counterValue(t, c.BytesSent, "lane0")
	if val != 150 {
		t.Errorf("BytesSent(lane0) = %v, want 150", val)
	}

	val = counterValue(t, c.BytesSent, "unreliable")
	if val != 20 {
		t.Errorf("BytesSent(unreliable) = %v, want 20", val)
	}

	c.AddBytesReceived("lane1", 75)

	val = counterValue(t, c.BytesReceived, "lane1")
	if val != 75 {
		t.Errorf("BytesReceived(lane1) = %v, want 75", val)
	}
}

func TestStreamCorruptions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	c.IncStreamCorruptions()
	c.IncStreamCorruptions()

	m := &dto.Metric{}
	if err := c.StreamCorruptions.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("StreamCorruptions = %v, want 2", got)
	}
}

func TestPendingBufferRefs(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := koimetrics.NewCollector(reg)

	c.SetPendingBufferRefs(4)

	m := &dto.Metric{}
	if err := c.PendingBufferRefs.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	if got := m.GetGauge().GetValue(); got != 4 {
		t.Errorf("PendingBufferRefs = %v, want 4", got)
	}

	c.SetPendingBufferRefs(0)

	m = &dto.Metric{}
	if err := c.PendingBufferRefs.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	if got := m.GetGauge().GetValue(); got != 0 {
		t.Errorf("PendingBufferRefs = %v, want 0", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
