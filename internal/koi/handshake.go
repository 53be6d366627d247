package koi

import (
	"encoding/binary"

	"github.com/dantte-lp/koisyn/internal/sentinel"
)

// This file implements the rendezvous handshake wire format and
// classification rule (§4.6): a fixed 8-byte packet carrying four
// big-endian port fields, read by the receiver as (remoteServer,
// remoteClient, localServer, localClient) regardless of which side sent
// it. The sender is responsible for swapping its own local/remote meaning
// onto those wire slots; see encodeHandshakePacket.

// packetKind identifies which of the three handshake packets a decoded
// quad represents, per §4.6's classification table.
type packetKind uint8

const (
	packetKindUnknown packetKind = iota
	packetKind1
	packetKind2
	packetKind3
)

// metricLabel returns the HandshakePackets counter label for kind.
func (k packetKind) metricLabel() string {
	switch k {
	case packetKind1:
		return "packet1"
	case packetKind2:
		return "packet2"
	case packetKind3:
		return "packet3"
	default:
		return "unknown"
	}
}

// decodeHandshakePacket parses an 8-byte wire packet into the receiver's
// view of the port quad: RemoteServer/RemoteClient are the sender's own
// local ports (what the receiver should treat as "remote"), and
// LocalServer/LocalClient are the sender's echo of the receiver's local
// ports, zero if the sender does not yet know them.
func decodeHandshakePacket(b []byte) (PortQuad, bool) {
	if len(b) != sentinel.HandshakeWireSize {
		return PortQuad{}, false
	}
	return PortQuad{
		RemoteServer: binary.BigEndian.Uint16(b[0:2]),
		RemoteClient: binary.BigEndian.Uint16(b[2:4]),
		LocalServer:  binary.BigEndian.Uint16(b[4:6]),
		LocalClient:  binary.BigEndian.Uint16(b[6:8]),
	}, true
}

// encodeHandshakePacket builds an 8-byte wire packet from the sender's own
// point of view: myLocal{Server,Client} are this host's ports, and
// myRemote{Server,Client} are this host's current knowledge of the peer's
// ports (zero if not yet known). The wire slot order matches
// decodeHandshakePacket so the receiver reads myLocal* back as its own
// "remote" fields and myRemote* back as its own "local" fields.
func encodeHandshakePacket(myLocalServer, myLocalClient, myRemoteServer, myRemoteClient uint16) []byte {
	wire := make([]byte, sentinel.HandshakeWireSize)
	binary.BigEndian.PutUint16(wire[0:2], myLocalServer)
	binary.BigEndian.PutUint16(wire[2:4], myLocalClient)
	binary.BigEndian.PutUint16(wire[4:6], myRemoteServer)
	binary.BigEndian.PutUint16(wire[6:8], myRemoteClient)
	return wire
}

// classifyHandshakePacket applies §4.6's classification table to a
// decoded quad.
func classifyHandshakePacket(q PortQuad) packetKind {
	remoteKnown := q.RemoteServer != 0 || q.RemoteClient != 0
	localKnown := q.LocalServer != 0 || q.LocalClient != 0

	switch {
	case remoteKnown && !localKnown:
		return packetKind1
	case remoteKnown && localKnown:
		return packetKind2
	case !remoteKnown && localKnown:
		return packetKind3
	default:
		return packetKindUnknown
	}
}
