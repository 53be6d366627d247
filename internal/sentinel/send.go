//go:build linux

package sentinel

import (
	"fmt"
	"net/netip"
)

// SendFirewallChallenge sends the 2-byte dummy packet described in the
// glossary ("Firewall challenge") to remote, inducing the peer's NAT to
// admit return traffic from this socket. Per §4.6, this is sent from
// the local listener's UDP socket — in this module the sentinel's socket
// and the secure-transport listener's socket are the same net.PacketConn
// (see Sentinel.PacketConn), so sending it via the Sentinel satisfies that
// requirement without any extra socket-handle extraction.
func (s *Sentinel) SendFirewallChallenge(remote netip.AddrPort) error {
	nonce := randomNonce()
	if err := s.SendTo(remote, nonce[:]); err != nil {
		return fmt.Errorf("firewall challenge to %s: %w", remote, err)
	}
	return nil
}
