package transport_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/koisyn/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestDialAcceptStreamRoundTrip exercises the listener/connection/stream
// wiring end to end: a server listener accepts a client's connection, the
// client opens a reliable stream and writes a raw payload, and the server
// reads it back via Stream.ReadChunk.
func TestDialAcceptStreamRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cert, err := transport.EnsureCertificate(dir)
	if err != nil {
		t.Fatalf("EnsureCertificate: %v", err)
	}

	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer serverPC.Close()

	ln, err := transport.Listen(serverPC, transport.NewServerTLSConfig(cert), transport.NewQUICConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	remote, err := netip.ParseAddrPort(serverPC.LocalAddr().String())
	if err != nil {
		t.Fatalf("ParseAddrPort: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket (client): %v", err)
	}
	defer clientPC.Close()

	type acceptResult struct {
		conn *transport.Connection
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		acceptCh <- acceptResult{conn, err}
	}()

	clientConn, err := transport.Dial(ctx, clientPC, remote, transport.NewClientTLSConfig(), transport.NewQUICConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Release()

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	serverConn := res.conn
	defer serverConn.Release()

	clientStream, err := clientConn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer clientStream.Release()

	payload := []byte("hello lane")
	if err := clientStream.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	serverStream, err := serverConn.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}
	defer serverStream.Release()

	buf := make([]byte, 64)
	n, absOffset, err := serverStream.ReadChunk(buf)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if absOffset != 0 {
		t.Errorf("absOffset = %d, want 0 for first read", absOffset)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("got %q, want %q", buf[:n], payload)
	}
}
