package koi

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ParseEndpoint parses addr, which may be a bare host, a "[host]:port"
// pair, or a bare host with the port supplied separately via fallbackPort,
// into a netip.AddrPort. IPv4 results are canonicalized as IPv4-mapped IPv6
// (::ffff:a.b.c.d) so that every stored endpoint uses a uniform address
// family, letting a dual-stack socket accept both.
//
// Grounded on original_source/KoiSyn/inc/koisyn/address_parser.h's
// TryParse/TryParseMap6: first attempt a direct parse, and if it yields an
// IPv4 result, convert it to the IPv4-mapped IPv6 form with
// netip.AddrFrom16 (no second parse).
func ParseEndpoint(addr string, fallbackPort uint16) (netip.AddrPort, error) {
	ap, err := tryParse(addr, fallbackPort)
	if err != nil {
		return netip.AddrPort{}, err
	}

	if ap.Addr().Is4() {
		mapped := netip.AddrFrom16(ap.Addr().As16())
		return netip.AddrPortFrom(mapped, ap.Port()), nil
	}

	return ap, nil
}

func tryParse(addr string, fallbackPort uint16) (netip.AddrPort, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return netip.AddrPort{}, fmt.Errorf("parse endpoint %q: %w", addr, ErrMalformedAddress)
	}

	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap, nil
	}

	if ip, err := netip.ParseAddr(addr); err == nil {
		return netip.AddrPortFrom(ip, fallbackPort), nil
	}

	host, portStr, err := splitHostPortLoose(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse endpoint %q: %w: %w", addr, ErrMalformedAddress, err)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse endpoint %q: %w: %w", addr, ErrMalformedAddress, err)
	}

	port := fallbackPort
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("parse endpoint %q: %w: %w", addr, ErrMalformedAddress, err)
		}
		port = uint16(p)
	}

	return netip.AddrPortFrom(ip, port), nil
}

// splitHostPortLoose handles "[host]" (no port, use fallback) and
// "host:port" forms that net.SplitHostPort rejects when the port is absent.
func splitHostPortLoose(addr string) (host, port string, err error) {
	if strings.HasPrefix(addr, "[") {
		end := strings.IndexByte(addr, ']')
		if end < 0 {
			return "", "", fmt.Errorf("unterminated bracket in %q", addr)
		}
		host = addr[1:end]
		rest := addr[end+1:]
		if after, ok := strings.CutPrefix(rest, ":"); ok {
			port = after
		}
		return host, port, nil
	}

	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 && strings.Count(addr, ":") == 1 {
		return addr[:idx], addr[idx+1:], nil
	}

	return addr, "", nil
}
