// Package koi implements the KoiSyn peer-to-peer transport core: the UDP
// rendezvous handshake, the per-peer slot state machine, the twinned
// secure-transport send/receive path, and the application callback surface.
package koi
