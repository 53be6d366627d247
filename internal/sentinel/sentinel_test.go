package sentinel_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/koisyn/internal/sentinel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBindAndPort(t *testing.T) {
	s, err := sentinel.Bind(0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	if s.Port() == 0 {
		t.Fatal("expected a nonzero OS-assigned port")
	}
}

func TestSendToAndRecv(t *testing.T) {
	a, err := sentinel.Bind(0)
	if err != nil {
		t.Fatalf("Bind a: %v", err)
	}
	defer a.Close()

	b, err := sentinel.Bind(0)
	if err != nil {
		t.Fatalf("Bind b: %v", err)
	}
	defer b.Close()

	var (
		wg  sync.WaitGroup
		got []byte
	)
	wg.Add(1)
	b.RegisterRecvCallback(func(payload []byte, _ netip.AddrPort) {
		got = append([]byte(nil), payload...)
		wg.Done()
	})

	loopback := netip.AddrPortFrom(netip.IPv6Loopback(), b.Port())
	msg := []byte("rendezvous")
	if err := a.SendTo(loopback, msg); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receive callback")
	}

	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestCloseUnblocksRecvLoop(t *testing.T) {
	s, err := sentinel.Bind(0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	s.RegisterRecvCallback(func([]byte, netip.AddrPort) {})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
