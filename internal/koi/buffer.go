package koi

import (
	"encoding/binary"
	"sync/atomic"
)

// MaxReliablePayload is the largest payload a single reliable_send may
// carry (§4.8, §8 boundary behavior: 65512 succeeds, 65513 fails).
const MaxReliablePayload = 65512

// prefixLen is the width of the wire header prepended to every raw send
// buffer: a length (reliable) or a packet number (unreliable), always
// network byte order (§4.4, §6).
const prefixLen = 4

// RawSendBuffer is a heap-allocated send buffer shared across the twinned
// submission paths of a lane. Its layout mirrors
// original_source/KoiSyn/inc/koisyn/koichan.h's RawBuffer: a 4-byte prefix
// header immediately followed by the payload, with the refcount and
// payload length tracked out of band from the wire bytes.
//
// The refcount is bumped once per non-nil destination handle *before* any
// submission is attempted (see Retain), so that the first submission's
// completion callback can never free the buffer while a second submission
// is still in flight — the two-pass protocol §9 describes.
type RawSendBuffer struct {
	wire    []byte
	refs    atomic.Int32
	released atomic.Bool
}

// pendingBufferRefs is the process-wide sum of outstanding RawSendBuffer
// submission refcounts across every live buffer, polled into the
// pending-buffer-refs gauge by Manager.sweepHandshakes rather than pushed
// synchronously — a buffer has no Manager reference of its own, and this
// matches the retry daemon's own tick-based polling of slot state.
var pendingBufferRefs atomic.Int64

// PendingBufferRefs returns the current process-wide outstanding
// RawSendBuffer refcount sum, for metrics polling.
func PendingBufferRefs() int64 { return pendingBufferRefs.Load() }

// NewReliableBuffer builds a RawSendBuffer for a reliable-lane send: the
// prefix holds the big-endian payload length.
func NewReliableBuffer(payload []byte) (*RawSendBuffer, error) {
	if len(payload) > MaxReliablePayload {
		return nil, ErrPayloadTooLarge
	}
	return newRawBuffer(uint32(len(payload)), payload), nil
}

// NewUnreliableBuffer builds a RawSendBuffer for an unreliable-lane send:
// the prefix holds the big-endian packet sequence number.
func NewUnreliableBuffer(packetNumber uint32, payload []byte) *RawSendBuffer {
	return newRawBuffer(packetNumber, payload)
}

func newRawBuffer(prefixValue uint32, payload []byte) *RawSendBuffer {
	wire := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint32(wire[:prefixLen], prefixValue)
	copy(wire[prefixLen:], payload)
	return &RawSendBuffer{wire: wire}
}

// Wire returns the full on-wire byte slice: prefix header plus payload.
// The returned slice must not be mutated.
func (b *RawSendBuffer) Wire() []byte { return b.wire }

// Retain bumps the refcount by n, representing n outstanding submissions
// about to be issued. Must be called for every non-nil destination handle
// before any of those handles' Send is invoked.
func (b *RawSendBuffer) Retain(n int32) {
	if n <= 0 {
		return
	}
	b.refs.Add(n)
	pendingBufferRefs.Add(int64(n))
}

// Release drops the refcount by one, representing one submission's
// completion (send-complete callback). When the count reaches zero the
// buffer is considered free; callers stop referencing b.Wire() afterward.
// Matches §8's invariant: refcount == 0 ⇒ memory released.
func (b *RawSendBuffer) Release() {
	pendingBufferRefs.Add(-1)
	if b.refs.Add(-1) <= 0 {
		b.released.Store(true)
	}
}

// Abandon is called when Retain bumped the count for submissions that were
// never actually issued (e.g. every destination handle turned out nil, or
// submission itself failed outright) — it unwinds those speculative
// retains in one step rather than calling Release n times.
func (b *RawSendBuffer) Abandon(n int32) {
	if n <= 0 {
		return
	}
	pendingBufferRefs.Add(-int64(n))
	if b.refs.Add(-n) <= 0 {
		b.released.Store(true)
	}
}

// Released reports whether the buffer's refcount has reached zero.
func (b *RawSendBuffer) Released() bool { return b.released.Load() }

// RefCount returns the current outstanding-submission count, for tests and
// metrics.
func (b *RawSendBuffer) RefCount() int32 { return b.refs.Load() }
