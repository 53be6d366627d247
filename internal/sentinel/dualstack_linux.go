//go:build linux

package sentinel

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Dual-stack UDP socket creation — §4.2
// -------------------------------------------------------------------------

// listenDualStack binds a UDP socket in IPv6 dual-stack mode
// (IPV6_V6ONLY = 0) on the IPv6 unspecified address (::) and the given
// port. Port 0 lets the OS choose a port.
func listenDualStack(ctx context.Context, port uint16) (*net.UDPConn, error) {
	laddr := netip.AddrPortFrom(netip.IPv6Unspecified(), port)

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setDualStackOpts(c)
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp6", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen dual-stack UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen dual-stack UDP %s: %w: %w", laddr, ErrUnexpectedConnType, closeErr)
	}

	return conn, nil
}

// setDualStackOpts configures the socket to accept both IPv4 and IPv6
// traffic on the same UDP socket (§4.2: "IPV6_V6ONLY = 0"), plus
// SO_REUSEADDR so a session can rebind quickly after teardown.
func setDualStackOpts(c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		sockErr = applyDualStackOpts(intFD)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

func applyDualStackOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return fmt.Errorf("set IPV6_V6ONLY=0: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// TransientPortAllocator — per-handshake local-client sockets
// -------------------------------------------------------------------------

// TransientPortAllocator reserves a fresh local-client UDP socket per
// handshake attempt (§4.6: "reserve a fresh local-client UDP port by
// binding a transient socket"). It binds an ephemeral dual-stack socket and
// lets the OS pick the port, tracking the set of ports currently held open
// so Release can close a port's socket by number. The set is not exposed
// to callers.
//
// Adapted from a tracked-range allocator to an OS-assigned ephemeral bind,
// since KoiSyn's transient client port has no RFC-mandated range — any free
// port the OS hands back is acceptable.
type TransientPortAllocator struct {
	mu    sync.Mutex
	ports map[uint16]*net.UDPConn
}

// NewTransientPortAllocator creates an empty allocator.
func NewTransientPortAllocator() *TransientPortAllocator {
	return &TransientPortAllocator{ports: make(map[uint16]*net.UDPConn)}
}

// Reserve binds a new dual-stack UDP socket on an OS-chosen ephemeral port
// and returns both the socket and the allocated port.
func (a *TransientPortAllocator) Reserve(ctx context.Context) (*net.UDPConn, uint16, error) {
	conn, err := listenDualStack(ctx, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("reserve transient port: %w", err)
	}

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("reserve transient port: %w", ErrUnexpectedConnType)
	}
	//nolint:gosec // G115: UDP port numbers fit uint16 by construction.
	port := uint16(addr.Port)

	a.mu.Lock()
	a.ports[port] = conn
	a.mu.Unlock()

	return conn, port, nil
}

// Release closes and forgets the transient socket bound to port, if any.
// Releasing an unknown port is a no-op. §4.6 step 4: "Close the
// transient socket (the OS port is briefly unowned — accept the small race
// in favor of reuse)."
func (a *TransientPortAllocator) Release(port uint16) {
	a.mu.Lock()
	conn, ok := a.ports[port]
	delete(a.ports, port)
	a.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}

// Forget removes port from the allocator's bookkeeping without closing its
// socket. Used once a transient port's ownership passes to the
// secure-transport connection dialed on it (§4.6 step 4: the punched
// socket becomes the connection's own local endpoint, not a handle this
// allocator should close on the caller's behalf anymore).
func (a *TransientPortAllocator) Forget(port uint16) {
	a.mu.Lock()
	delete(a.ports, port)
	a.mu.Unlock()
}

// randomNonce returns a small pseudo-random byte sequence used to pad the
// firewall-challenge packet, a 2-byte dummy UDP packet sent to the peer's
// client port to open a hole in the local NAT/firewall while handling
// rendezvous packets 1 and 2.
// Non-cryptographic: the content is never interpreted by either peer.
func randomNonce() [2]byte {
	var b [2]byte
	//nolint:gosec // G404: nonce content is never validated, only its arrival matters.
	v := rand.Uint32()
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	return b
}
