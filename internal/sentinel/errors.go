package sentinel

import (
	"errors"
	"net/netip"
)

// -------------------------------------------------------------------------
// Sentinel Defaults
// -------------------------------------------------------------------------

const (
	// recvBufSize is the fixed receive buffer size for the sentinel's
	// recvfrom loop. §4.2: "a fixed-size buffer (default 1520 bytes)".
	recvBufSize = 1520

	// HandshakeWireSize is the fixed length of a rendezvous handshake
	// packet: four big-endian 16-bit port fields.
	HandshakeWireSize = 8
)

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrAlreadyBound indicates Bind was called on a Sentinel that already
	// owns a socket.
	ErrAlreadyBound = errors.New("sentinel already bound")

	// ErrClosed indicates an operation on a closed Sentinel.
	ErrClosed = errors.New("sentinel closed")

	// ErrUnexpectedConnType indicates the listener config produced a
	// net.PacketConn that is not a *net.UDPConn.
	ErrUnexpectedConnType = errors.New("unexpected packet connection type")
)

// RecvFunc is invoked once per received datagram with the payload bytes
// (valid only for the duration of the call — callers that need to retain
// the bytes must copy them) and the sender's address.
//
// §4.2: "a receive of zero length is ignored; a negative return
// terminates the loop" — in the Go port, a zero-length read is skipped and
// a read error (including the socket being closed) terminates the loop.
type RecvFunc func(b []byte, remote netip.AddrPort)
