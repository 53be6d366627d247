package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Listener wraps a quic.Listener bound to the same UDP socket as the
// sentinel (§4.2). It keeps its own reference to the net.PacketConn
// so the core can send the firewall-challenge packet from the exact same
// socket the listener accepts connections on, without reaching into
// quic-go internals (see SPEC_FULL.md §4.2 / §9).
type Listener struct {
	ln *quic.Listener
	pc net.PacketConn
}

// Listen binds a secure-transport listener on pc, which must already be
// bound to the shared sentinel/listener port.
func Listen(pc net.PacketConn, tlsConf *tls.Config, quicConf *quic.Config) (*Listener, error) {
	ln, err := quic.Listen(pc, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", pc.LocalAddr(), err)
	}
	return &Listener{ln: ln, pc: pc}, nil
}

// PacketConn returns the shared UDP socket (§4.2's "the sentinel and
// the secure transport's listener share the same UDP port").
func (l *Listener) PacketConn() net.PacketConn { return l.pc }

// Accept blocks until a peer completes a secure-transport handshake
// against this listener (§4.7 "listener new-connection").
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	return &Connection{conn: conn, side: SideServer}, nil
}

// Close stops the listener. It does not close the shared PacketConn: the
// sentinel owns that socket's lifetime.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
