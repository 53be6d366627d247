package koi

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/koisyn/internal/transport"
)

// Lane identifies one of the four reliable stream pairs (§9). Aliased
// from internal/transport so a Stream's decoded Lane() and a slot's
// reliable[lane] index are the same type without internal/transport
// depending back on internal/koi.
type Lane = transport.Lane

// NumLanes is the fixed number of reliable lanes per connection pair.
const NumLanes = transport.NumLanes

// NumSlots is N, the fixed size of a session's connection-slot table
// (§3).
const NumSlots = 16

// PortQuad is the four ports identifying a peer and the punched paths
// (§3, glossary).
type PortQuad struct {
	LocalServer  uint16
	LocalClient  uint16
	RemoteServer uint16
	RemoteClient uint16
}

// IsZero reports whether every field of the quad is zero.
func (q PortQuad) IsZero() bool {
	return q == PortQuad{}
}

// reliableLane is one of the four bidirectional reliable stream pairs.
type reliableLane struct {
	mu           sync.Mutex
	self, peer   *transport.Stream
	buffer       []byte
	nextRecvByte uint64
}

func (l *reliableLane) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.self, l.peer = nil, nil
	l.buffer = l.buffer[:0]
	l.nextRecvByte = 0
}

// datagramLane is the single unreliable connection pair.
type datagramLane struct {
	mu             sync.Mutex
	self, peer     *transport.Connection
	nextRecvPacket uint32
	nextSendPacket atomic.Uint32
	maxSendLength  atomic.Uint32
}

func (l *datagramLane) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.self, l.peer = nil, nil
	l.nextRecvPacket = 0
	l.nextSendPacket.Store(0)
	l.maxSendLength.Store(0)
}

// ConnectionSlot is one entry in the session's fixed N=16 slot table
// (§3). Fields and reset operations match §3/§4.5 verbatim in
// meaning.
type ConnectionSlot struct {
	index int
	mgr   *Manager

	// mu is the slot's single-writer modification lock (§3: "a
	// modification lock"). Lookup paths must TryLock, never Lock, to
	// avoid deadlocking against the inbound-callback path (§5).
	mu sync.Mutex

	state State
	quad  PortQuad

	channelCtx weakChannelContext

	remoteSentinel netip.AddrPort
	handshakeBegin time.Time

	transientSocket *net.UDPConn
	transientPort   uint16

	unreliable datagramLane
	reliable   [NumLanes]reliableLane

	refcount atomic.Int32
}

// isFree reports whether the slot's PortQuad is all-zero and its refcount
// is zero (§3 invariant).
func (s *ConnectionSlot) isFree() bool {
	return s.quad.IsZero() && s.refcount.Load() == 0
}

// resetChannels drops all transport handles, clears reassembly buffers,
// zeroes the PortQuad and HandshakeBegin, releases the transient socket,
// and clears the weak app-context reference (§4.5).
func (s *ConnectionSlot) resetChannels() {
	for i := range s.reliable {
		s.reliable[i].reset()
	}
	s.unreliable.reset()
	s.channelCtx.invalidate()
	s.remoteSentinel = netip.AddrPort{}
	s.handshakeBegin = time.Time{}
	s.quad = PortQuad{}
	s.state = StateFree

	if s.transientSocket != nil {
		if s.mgr != nil {
			s.mgr.transientAllocator.Release(s.transientPort)
		} else {
			_ = s.transientSocket.Close()
		}
		s.transientSocket = nil
		s.transientPort = 0
	}
}

// shutdownSide drops the four stream handles and the datagram connection
// handle owned by one side, then decrements the session refcount on this
// slot (§4.5).
func (s *ConnectionSlot) shutdownSide(side transport.Side) {
	for i := range s.reliable {
		lane := &s.reliable[i]
		lane.mu.Lock()
		if side == transport.SideClient {
			lane.self = nil
		} else {
			lane.peer = nil
		}
		lane.mu.Unlock()
	}

	s.unreliable.mu.Lock()
	if side == transport.SideClient {
		s.unreliable.self = nil
	} else {
		s.unreliable.peer = nil
	}
	s.unreliable.mu.Unlock()

	s.refcount.Add(-1)
}
