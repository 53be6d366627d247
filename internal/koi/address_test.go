package koi_test

import (
	"net/netip"
	"testing"

	"github.com/dantte-lp/koisyn/internal/koi"
)

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		addr         string
		fallbackPort uint16
		want         netip.AddrPort
		wantErr      bool
	}{
		{
			name: "bracketed ipv6 with port",
			addr: "[::1]:54545",
			want: netip.AddrPortFrom(netip.IPv6Loopback(), 54545),
		},
		{
			name:         "bare ipv4 uses fallback port and maps to ipv6",
			addr:         "192.168.1.1",
			fallbackPort: 54545,
			want: netip.AddrPortFrom(
				netip.AddrFrom16(netip.MustParseAddr("192.168.1.1").As16()),
				54545,
			),
		},
		{
			name: "ipv4 with explicit port maps to ipv6",
			addr: "192.168.1.1:4242",
			want: netip.AddrPortFrom(
				netip.AddrFrom16(netip.MustParseAddr("192.168.1.1").As16()),
				4242,
			),
		},
		{
			name:    "empty string is malformed",
			addr:    "",
			wantErr: true,
		},
		{
			name:    "garbage is malformed",
			addr:    "not-an-address",
			wantErr: true,
		},
		{
			name:         "unspecified ipv6 with zero port",
			addr:         "::",
			fallbackPort: 0,
			want:         netip.AddrPortFrom(netip.IPv6Unspecified(), 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := koi.ParseEndpoint(tt.addr, tt.fallbackPort)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint(%q) = %v, want error", tt.addr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) unexpected error: %v", tt.addr, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestParseEndpointRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{"[::1]:1234", "[2001:db8::1]:443", "[::ffff:10.0.0.1]:80"}
	for _, in := range inputs {
		ap, err := koi.ParseEndpoint(in, 0)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", in, err)
		}
		again, err := koi.ParseEndpoint(ap.String(), 0)
		if err != nil {
			t.Fatalf("re-parse of %q: %v", ap.String(), err)
		}
		if ap != again {
			t.Errorf("round trip mismatch: %v != %v", ap, again)
		}
	}
}
