package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// Side records whether a Connection was dialed by this host or accepted
// from a listener (§4.7: "discoverable from the connection's type").
type Side uint8

const (
	SideClient Side = iota
	SideServer
)

func (s Side) String() string {
	if s == SideServer {
		return "server"
	}
	return "client"
}

// Connection wraps a quic.Conn as a refcounted handle (§4.3). Its
// last Release triggers a graceful shutdown
// (connection_shutdown(graceful)).
type Connection struct {
	conn *quic.Conn
	side Side
	refs atomic.Int32
}

// Dial opens an outbound secure-transport connection to remote, reusing
// the local UDP socket pc (§4.6 step 4: "pin the connection's local
// endpoint... so it reuses the punched port").
func Dial(ctx context.Context, pc net.PacketConn, remote netip.AddrPort, tlsConf *tls.Config, quicConf *quic.Config) (*Connection, error) {
	conn, err := quic.Dial(ctx, pc, net.UDPAddrFromAddrPort(remote), tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return &Connection{conn: conn, side: SideClient}, nil
}

// Side reports whether this connection was dialed (client) or accepted
// from a Listener (server).
func (c *Connection) Side() Side { return c.side }

// RemoteAddr returns the peer's address as reported by the underlying
// connection.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Context is cancelled when the connection is closed.
func (c *Connection) Context() context.Context { return c.conn.Context() }

// OpenStream opens a new bidirectional stream, blocking until the peer's
// stream limit allows it.
func (c *Connection) OpenStream(ctx context.Context) (*Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return newStream(s), nil
}

// AcceptStream blocks until the peer opens a new bidirectional stream.
func (c *Connection) AcceptStream(ctx context.Context) (*Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return newStream(s), nil
}

// SendDatagram queues wire for unreliable delivery. Synchronous, like
// Stream.Send: by the time it returns, the caller's RawSendBuffer may be
// released (see stream.go's Send doc comment for the msquic-async
// comparison).
func (c *Connection) SendDatagram(wire []byte) error {
	if err := c.conn.SendDatagram(wire); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// ReceiveDatagram blocks until an unreliable datagram arrives.
func (c *Connection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	b, err := c.conn.ReceiveDatagram(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive datagram: %w", err)
	}
	return b, nil
}

// MaxDatagramSize reports the largest datagram payload quic-go currently
// believes it can deliver on this connection (§4.7 "datagram state
// changed... update the lane's MaxSendLength").
func (c *Connection) MaxDatagramSize() int {
	return int(c.conn.MaxDatagramSize())
}

// Retain increments the handle's refcount.
func (c *Connection) Retain() { c.refs.Add(1) }

// Release decrements the handle's refcount; on reaching zero it closes the
// connection gracefully.
func (c *Connection) Release() {
	if c.refs.Add(-1) > 0 {
		return
	}
	_ = c.conn.CloseWithError(0, "closed")
}
