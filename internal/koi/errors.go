package koi

import "errors"

// Sentinel errors, matching §7's error-kind taxonomy. ParseEndpoint,
// Manager.ConnectTo and the Channel send methods return them, wrapped with
// %w, directly to the caller; none is reported through the application
// callbacks. ErrAlreadyStarted, ErrStreamCorruption and
// ErrDeadChannelContext are not returned by any function in this package.
var (
	ErrMalformedAddress  = errors.New("koi: malformed address")
	ErrSlotsExhausted    = errors.New("koi: all connection slots in use")
	ErrPayloadTooLarge   = errors.New("koi: payload exceeds maximum frame size")
	ErrLaneOutOfRange    = errors.New("koi: reliable lane out of range")
	ErrDatagramTooLarge  = errors.New("koi: datagram exceeds negotiated max size")
	ErrNotConnected      = errors.New("koi: slot is not connected")
	ErrAlreadyStarted    = errors.New("koi: session already started")
	ErrStreamCorruption  = errors.New("koi: reliable stream reassembly gap")
	ErrDeadChannelContext = errors.New("koi: application channel context expired")
)
