package sentinel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// -------------------------------------------------------------------------
// Sentinel — a bound UDP socket with a blocking receive loop (C2)
// -------------------------------------------------------------------------

// Sentinel is a single UDP socket bound in IPv6 dual-stack mode used for
// the rendezvous handshake. It shares its port with the secure-transport
// listener (see internal/transport), so PacketConn exposes the underlying
// net.PacketConn for that purpose.
type Sentinel struct {
	conn *net.UDPConn
	port uint16

	mu     sync.Mutex
	closed bool

	recvWG sync.WaitGroup
}

// Bind creates a Sentinel bound to the given port (0 lets the OS choose).
func Bind(port uint16) (*Sentinel, error) {
	conn, err := listenDualStack(context.Background(), port)
	if err != nil {
		return nil, fmt.Errorf("bind sentinel: %w", err)
	}

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("bind sentinel: %w", ErrUnexpectedConnType)
	}

	return &Sentinel{
		conn: conn,
		//nolint:gosec // G115: UDP port numbers fit uint16 by construction.
		port: uint16(addr.Port),
	}, nil
}

// Port returns the UDP port the sentinel is bound to.
func (s *Sentinel) Port() uint16 { return s.port }

// PacketConn returns the underlying net.PacketConn, so the secure-transport
// listener can be configured to the same port (§4.2).
func (s *Sentinel) PacketConn() net.PacketConn { return s.conn }

// SendTo writes b to the given remote endpoint.
func (s *Sentinel) SendTo(remote netip.AddrPort, b []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("sentinel send to %s: %w", remote, ErrClosed)
	}

	dst := net.UDPAddrFromAddrPort(remote)
	if _, err := s.conn.WriteToUDP(b, dst); err != nil {
		return fmt.Errorf("sentinel send to %s: %w", remote, err)
	}
	return nil
}

// RegisterRecvCallback spawns one goroutine that loops recvfrom into a
// fixed-size buffer and invokes fn(bytes, remote) for every non-empty
// datagram. The loop terminates when the socket is closed. §4.2: "a
// receive of zero length is ignored; a negative return terminates the
// loop" — the Go port terminates on any read error instead of a negative
// return value, since net.PacketConn surfaces closure as an error.
func (s *Sentinel) RegisterRecvCallback(fn RecvFunc) {
	s.recvWG.Add(1)
	go s.recvLoop(fn)
}

func (s *Sentinel) recvLoop(fn RecvFunc) {
	defer s.recvWG.Done()

	buf := make([]byte, recvBufSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		fn(buf[:n], addr)
	}
}

// Close closes the sentinel's socket, which unblocks the receive loop, and
// waits for it to exit.
func (s *Sentinel) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	s.recvWG.Wait()
	if err != nil {
		return fmt.Errorf("close sentinel: %w", err)
	}
	return nil
}
