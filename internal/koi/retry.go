package koi

import (
	"context"
	"log/slog"
	"time"
)

// This file implements the retry daemon described in §4.6: a single
// session-owned goroutine that walks the slot table every configured retry
// interval and applies the tri-state handshake timeout. One goroutine, one
// ticker, a select over it and context cancellation — no separate
// per-slot timers, since the session owns a single shared clock. The
// interval and the two timeouts come from the Manager's KoiConfig rather
// than package constants, so a deployment can retune them without a
// rebuild; only tolerance, which absorbs ticker jitter rather than
// expressing a domain timeout, stays a fixed constant.
const tolerance = 2 * time.Millisecond

// runRetryDaemon ticks every m.cfg.HandshakeRetryInterval until ctx is
// cancelled, resending the appropriate rendezvous packet for every slot
// still mid-handshake, and giving up on slots that have overrun the short
// or long timeout.
func (m *Manager) runRetryDaemon(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HandshakeRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepHandshakes()
		}
	}
}

// sweepHandshakes applies §4.6's tri-state timeout to every slot
// currently mid-handshake: skip if it started less than one tick ago, give
// up silently past the configured long timeout, give up and notify past
// the short timeout if the peer's ports were ever learned, otherwise
// resend the last appropriate rendezvous packet. It also tallies each
// slot's current FSM state into the active-slots gauge and polls the
// pending send-buffer refcount, since this tick is the session's only
// periodic point of contact with the whole slot table.
func (m *Manager) sweepHandshakes() {
	now := time.Now()
	tickInterval := m.cfg.HandshakeRetryInterval
	longTimeout := m.cfg.HandshakeLongTimeout
	shortTimeout := m.cfg.HandshakeShortTimeout

	var stateCounts [4]float64

	for i := range m.slots {
		slot := &m.slots[i]

		slot.mu.Lock()
		stateCounts[slot.state]++
		if slot.handshakeBegin.IsZero() {
			slot.mu.Unlock()
			continue
		}

		elapsed := now.Sub(slot.handshakeBegin)
		peerKnown := slot.quad.RemoteServer != 0 || slot.quad.RemoteClient != 0

		switch {
		case elapsed < tickInterval-tolerance:
			slot.mu.Unlock()

		case elapsed > longTimeout-tolerance:
			m.logRetryGiveUp(slot, false)
			m.metrics.IncHandshakeTimeout("long")
			result := ApplyEvent(slot.state, EventHandshakeTimeoutLong)
			slot.state = result.NewState
			slot.mu.Unlock()
			m.runActions(slot, result.Actions)

		case peerKnown && elapsed > shortTimeout-tolerance:
			m.logRetryGiveUp(slot, true)
			m.metrics.IncHandshakeTimeout("short")
			result := ApplyEvent(slot.state, EventHandshakeTimeoutShort)
			slot.state = result.NewState
			slot.mu.Unlock()
			m.runActions(slot, result.Actions)

		default:
			slot.mu.Unlock()
			m.resendHandshakePacket(slot, peerKnown)
		}
	}

	m.metrics.SetActiveSlots(StateFree.String(), stateCounts[StateFree])
	m.metrics.SetActiveSlots(StateHandshaking.String(), stateCounts[StateHandshaking])
	m.metrics.SetActiveSlots(StateConnected.String(), stateCounts[StateConnected])
	m.metrics.SetActiveSlots(StateTearingDown.String(), stateCounts[StateTearingDown])
	m.metrics.SetPendingBufferRefs(float64(PendingBufferRefs()))
}

// resendHandshakePacket re-emits whatever rendezvous packet is appropriate
// for a slot's current knowledge: packet 2 once the peer's ports are known
// (we are still waiting on packet 3 or a connected transport), otherwise
// packet 1.
func (m *Manager) resendHandshakePacket(slot *ConnectionSlot, peerKnown bool) {
	if peerKnown {
		m.sendHandshakePacket(slot, packetKind2)
		return
	}
	m.sendHandshakePacket(slot, packetKind1)
}

func (m *Manager) logRetryGiveUp(slot *ConnectionSlot, notify bool) {
	m.logger.Debug("handshake retry giving up",
		slog.Int("slot", slot.index),
		slog.Bool("notify", notify),
	)
}
