package koi

import (
	"fmt"

	"github.com/dantte-lp/koisyn/internal/transport"
)

// Channel is the public per-peer handle given to the application
// (§4.8, C8): reliable-per-lane and unreliable send, plus disconnect.
type Channel struct {
	mgr  *Manager
	slot *ConnectionSlot
}

// Disconnect applies EventDisconnectRequested under the slot's
// modification lock and runs the resulting teardown (§4.8): the slot's
// transport handles are released, and the slot is reset to Free once its
// refcount has drained to zero (at once if it holds no connection).
func (ch *Channel) Disconnect() {
	ch.slot.mu.Lock()
	result := ApplyEvent(ch.slot.state, EventDisconnectRequested)
	ch.slot.state = result.NewState
	ch.slot.mu.Unlock()

	ch.mgr.runActions(ch.slot, result.Actions)
}

// ReliableSend submits payload on the given lane, duplicated across both
// the self-initiated and peer-initiated stream handles (§4.8).
func (ch *Channel) ReliableSend(lane Lane, payload []byte) error {
	if int(lane) >= NumLanes {
		return fmt.Errorf("reliable send on lane %d: %w", lane, ErrLaneOutOfRange)
	}

	buf, err := NewReliableBuffer(payload)
	if err != nil {
		return fmt.Errorf("reliable send on lane %d: %w", lane, err)
	}

	l := &ch.slot.reliable[lane]
	l.mu.Lock()
	self, peer := l.self, l.peer
	l.mu.Unlock()

	if err := submitTwinned(buf, self, peer); err != nil {
		return err
	}
	ch.mgr.metrics.AddBytesSent(laneMetricLabel(lane), len(payload))
	return nil
}

// UnreliableSend submits payload on the unreliable lane, duplicated across
// both connection handles (§4.8).
func (ch *Channel) UnreliableSend(payload []byte) error {
	l := &ch.slot.unreliable
	maxLen := l.maxSendLength.Load()
	if uint32(len(payload)) > maxLen { //nolint:gosec // G115: len(payload) fits uint32 in practice for game payloads.
		return fmt.Errorf("unreliable send of %d bytes exceeds max %d: %w", len(payload), maxLen, ErrDatagramTooLarge)
	}

	number := l.nextSendPacket.Add(1) - 1
	buf := NewUnreliableBuffer(number, payload)

	l.mu.Lock()
	self, peer := l.self, l.peer
	l.mu.Unlock()

	if err := submitDatagramTwinned(buf, self, peer); err != nil {
		return err
	}
	ch.mgr.metrics.AddBytesSent("unreliable", len(payload))
	return nil
}

// streamSender is satisfied by *transport.Stream; extracted so the
// two-pass submission helper below is unit-testable against a fake.
type streamSender interface {
	Send(wire []byte) error
}

// submitTwinned implements §9's two-pass protocol for reliable sends:
// retain once per non-nil handle before issuing any submission, so the
// first submission's completion can never free the buffer while the
// second is still outstanding.
func submitTwinned(buf *RawSendBuffer, handles ...streamSender) error {
	var live []streamSender
	for _, h := range handles {
		if h != nil && !isNilStream(h) {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("reliable send: %w", ErrNotConnected)
	}

	buf.Retain(int32(len(live))) //nolint:gosec // G115: len(live) <= 2.

	var sentAny bool
	for _, h := range live {
		if err := h.Send(buf.Wire()); err != nil {
			buf.Release()
			continue
		}
		sentAny = true
		buf.Release()
	}

	if !sentAny {
		return fmt.Errorf("reliable send: %w", ErrNotConnected)
	}
	return nil
}

// isNilStream guards against a non-nil interface value wrapping a nil
// *transport.Stream, which a naive `h != nil` check would miss.
func isNilStream(h streamSender) bool {
	s, ok := h.(*transport.Stream)
	return ok && s == nil
}

type datagramSender interface {
	SendDatagram(wire []byte) error
}

func submitDatagramTwinned(buf *RawSendBuffer, handles ...datagramSender) error {
	var live []datagramSender
	for _, h := range handles {
		if h != nil && !isNilConn(h) {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("unreliable send: %w", ErrNotConnected)
	}

	buf.Retain(int32(len(live))) //nolint:gosec // G115: len(live) <= 2.

	var sentAny bool
	for _, h := range live {
		if err := h.SendDatagram(buf.Wire()); err != nil {
			buf.Release()
			continue
		}
		sentAny = true
		buf.Release()
	}

	if !sentAny {
		return fmt.Errorf("unreliable send: %w", ErrNotConnected)
	}
	return nil
}

func isNilConn(h datagramSender) bool {
	c, ok := h.(*transport.Connection)
	return ok && c == nil
}
