package transport

import (
	"fmt"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// Lane identifies one of the four reliable stream pairs between two peers
// (§9: "strong typing of lanes"). Valid range is 0..3.
type Lane uint8

// NumLanes is the fixed number of reliable lanes per connection pair.
const NumLanes = 4

// Stream wraps a quic.Stream as a refcounted handle (§4.3). Its last
// Release triggers an immediate stream shutdown rather than quic-go's
// graceful close, matching §4.3's "stream_shutdown(immediate)".
type Stream struct {
	s          *quic.Stream
	refs       atomic.Int32
	readOffset atomic.Uint64
}

func newStream(s *quic.Stream) *Stream {
	return &Stream{s: s}
}

// ID returns the stream's 62-bit wire identifier. Bits 0-1 encode
// direction/parity; Lane() decodes the remaining bits.
func (s *Stream) ID() int64 { return int64(s.s.StreamID()) }

// Lane decodes this stream's reliable-lane index from its wire identifier
// (§4.7: "the two least-significant bits encode direction and parity;
// index = id >> 2 maps the stream to one of the four reliable lanes").
func (s *Stream) Lane() Lane {
	return Lane((s.ID() >> 2) & 0x3)
}

// ReadChunk reads the next available bytes into buf and returns the
// absolute byte offset (into this stream alone) at which they begin. This
// substitutes for msquic's per-event AbsoluteOffset/TotalBufferLength
// fields, which quic-go's Read does not expose: because quic-go guarantees
// ordered, gap-free delivery on a single stream, the cumulative
// bytes-read-so-far counter tracked here *is* that absolute offset.
func (s *Stream) ReadChunk(buf []byte) (n int, absOffset uint64, err error) {
	n, err = s.s.Read(buf)
	absOffset = s.readOffset.Load()
	if n > 0 {
		s.readOffset.Add(uint64(n)) //nolint:gosec // G115: n is bounded by len(buf).
	}
	return n, absOffset, err
}

// Send writes wire synchronously. quic-go's Write blocks until the bytes
// are handed to the connection's send buffer, unlike msquic's asynchronous
// StreamSend + SEND_COMPLETE callback — by the time Send returns, wire is
// fully consumed and the caller's RawSendBuffer may be released.
func (s *Stream) Send(wire []byte) error {
	if _, err := s.s.Write(wire); err != nil {
		return fmt.Errorf("stream %d write: %w", s.ID(), err)
	}
	return nil
}

// Retain increments the handle's refcount.
func (s *Stream) Retain() { s.refs.Add(1) }

// Release decrements the handle's refcount; on reaching zero it cancels
// both directions of the stream immediately.
func (s *Stream) Release() {
	if s.refs.Add(-1) > 0 {
		return
	}
	s.s.CancelRead(0)
	s.s.CancelWrite(0)
}
