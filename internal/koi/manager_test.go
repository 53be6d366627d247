package koi_test

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/koisyn/internal/config"
	"github.com/dantte-lp/koisyn/internal/koi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKoiConfig returns a KoiConfig pointed at a fresh temp certificate
// directory, with an OS-assigned sentinel port.
func testKoiConfig(t *testing.T) *config.KoiConfig {
	t.Helper()
	return &config.KoiConfig{
		SentinelPort:           0,
		CertDir:                t.TempDir(),
		HandshakeRetryInterval: 4 * time.Second,
		HandshakeShortTimeout:  12 * time.Second,
		HandshakeLongTimeout:   60 * time.Second,
	}
}

func TestManagerStartClose(t *testing.T) {
	t.Parallel()

	m := koi.NewManager(testLogger(), testKoiConfig(t), nil)

	port, err := m.Start(koi.Callbacks{})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if port == 0 {
		t.Fatal("Start() returned port 0 with an OS-chosen bind")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestManagerStartIdempotent(t *testing.T) {
	t.Parallel()

	m := koi.NewManager(testLogger(), testKoiConfig(t), nil)

	port1, err := m.Start(koi.Callbacks{})
	if err != nil {
		t.Fatalf("first Start() error: %v", err)
	}

	port2, err := m.Start(koi.Callbacks{})
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if port1 != port2 {
		t.Errorf("second Start() returned port %d, want %d (already started)", port2, port1)
	}

	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
}

func TestManagerCloseIdempotent(t *testing.T) {
	t.Parallel()

	m := koi.NewManager(testLogger(), testKoiConfig(t), nil)

	if _, err := m.Start(koi.Callbacks{}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error: %v, want nil (idempotent)", err)
	}
}

func TestManagerCloseWithoutStart(t *testing.T) {
	t.Parallel()

	m := koi.NewManager(testLogger(), testKoiConfig(t), nil)

	if err := m.Close(); err != nil {
		t.Errorf("Close() on never-started manager error: %v, want nil", err)
	}
}

// TestConnectToClaimsAFreeSlot verifies that ConnectTo from one manager to
// another live manager bound to loopback claims a slot without error. It
// does not wait for the rendezvous packet to arrive or inspect either
// manager's slot table.
func TestConnectToClaimsAFreeSlot(t *testing.T) {
	t.Parallel()

	serverLogger := testLogger()
	server := koi.NewManager(serverLogger, testKoiConfig(t), nil)
	serverPort, err := server.Start(koi.Callbacks{})
	if err != nil {
		t.Fatalf("server Start() error: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	client := koi.NewManager(testLogger(), testKoiConfig(t), nil)
	if _, err := client.Start(koi.Callbacks{}); err != nil {
		t.Fatalf("client Start() error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	remote := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), serverPort)
	if err := client.ConnectTo(remote); err != nil {
		t.Fatalf("ConnectTo() error: %v", err)
	}
}

// TestConnectToExhaustedSlots verifies that claiming more than NumSlots
// distinct remote sentinels returns ErrSlotsExhausted rather than silently
// dropping the request.
func TestConnectToExhaustedSlots(t *testing.T) {
	t.Parallel()

	m := koi.NewManager(testLogger(), testKoiConfig(t), nil)
	if _, err := m.Start(koi.Callbacks{}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	for i := 0; i < koi.NumSlots; i++ {
		remote := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(20000+i)) //nolint:gosec // G115: bounded test loop.
		if err := m.ConnectTo(remote); err != nil {
			t.Fatalf("ConnectTo() slot %d error: %v", i, err)
		}
	}

	overflow := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 29999)
	if err := m.ConnectTo(overflow); err == nil {
		t.Error("ConnectTo() with all slots claimed returned nil error, want ErrSlotsExhausted")
	}
}
