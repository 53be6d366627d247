// Package sentinel implements the UDP rendezvous socket (component C2).
//
// A Sentinel is a single UDP socket bound in IPv6 dual-stack mode
// (IPV6_V6ONLY = 0) with a blocking receive loop that delivers (bytes,
// remote) pairs to a registered callback. It shares its port with the
// secure-transport listener; see internal/transport for how the two are
// wired together.
package sentinel
