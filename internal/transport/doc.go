// Package transport wraps github.com/quic-go/quic-go as KoiSyn's secure
// transport collaborator (component C3). It provides refcounted owners for
// connection and stream objects with close-on-last-release semantics, a
// listener wrapper closed explicitly by Close, plus the certificate and
// config plumbing a working
// module needs since quic-go's public surface is blocking
// (io.Reader/io.Writer-shaped) rather than msquic's callback table.
//
// internal/koi drives the blocking calls from its own goroutines; this
// package does not run any event loop of its own.
package transport
