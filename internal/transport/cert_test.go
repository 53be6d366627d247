package transport_test

import (
	"testing"

	"github.com/dantte-lp/koisyn/internal/transport"
)

func TestEnsureCertificateGeneratesAndReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := transport.EnsureCertificate(dir)
	if err != nil {
		t.Fatalf("EnsureCertificate (generate): %v", err)
	}
	if len(first.Certificate) == 0 {
		t.Fatal("expected a non-empty certificate chain")
	}

	second, err := transport.EnsureCertificate(dir)
	if err != nil {
		t.Fatalf("EnsureCertificate (reload): %v", err)
	}

	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Error("expected the second call to reload the same certificate, got a new one")
	}
}
