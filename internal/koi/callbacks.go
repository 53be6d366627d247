package koi

import "log/slog"

// Callbacks is the application's hook surface (§4.9, C9): an opaque
// global context plus accept/receive/disconnect hooks. Every field
// defaults to a safe no-op so a caller only needs to set what it uses.
type Callbacks struct {
	// Global is passed verbatim to every hook; KoiSyn never interprets it.
	Global any

	// OnAccept is invoked once a peer's twinned connections are ready to
	// start. Returning false, or leaving *ctx unset, aborts the
	// connection and resets the slot (§4.6 start_client step 3).
	OnAccept func(ch *Channel, global any, ctx *any) bool

	// OnReliableReceive[lane] delivers one reassembled, deduplicated
	// message per call.
	OnReliableReceive [NumLanes]func(ch *Channel, payload []byte, global, channelCtx any)

	// OnUnreliableReceive delivers one deduplicated datagram per call.
	OnUnreliableReceive func(ch *Channel, payload []byte, global, channelCtx any)

	// OnDisconnect fires once, when a slot's refcount drains to zero
	// after having been connected, or on a short handshake timeout.
	OnDisconnect func(ch *Channel, global, channelCtx any)
}

// withDefaults returns a copy of cb with every nil hook replaced by a
// no-op, so call sites never need a nil check.
func (cb Callbacks) withDefaults() Callbacks {
	if cb.OnAccept == nil {
		cb.OnAccept = func(*Channel, any, *any) bool { return false }
	}
	for i := range cb.OnReliableReceive {
		if cb.OnReliableReceive[i] == nil {
			cb.OnReliableReceive[i] = func(*Channel, []byte, any, any) {}
		}
	}
	if cb.OnUnreliableReceive == nil {
		cb.OnUnreliableReceive = func(*Channel, []byte, any, any) {}
	}
	if cb.OnDisconnect == nil {
		cb.OnDisconnect = func(*Channel, any, any) {}
	}
	return cb
}

// safeOnAccept invokes cb.OnAccept under a recover() so an application
// panic can never bring down a transport goroutine (§7,
// "exceptions thrown by application callbacks... swallowed and reported
// as success").
func safeOnAccept(logger *slog.Logger, cb Callbacks, ch *Channel, ctx *any) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("application OnAccept panicked", slog.Any("panic", r))
			accepted = false
		}
	}()
	return cb.OnAccept(ch, cb.Global, ctx)
}

func safeOnReliableReceive(logger *slog.Logger, cb Callbacks, lane Lane, ch *Channel, payload []byte, channelCtx any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("application OnReliableReceive panicked",
				slog.Int("lane", int(lane)), slog.Any("panic", r))
		}
	}()
	cb.OnReliableReceive[lane](ch, payload, cb.Global, channelCtx)
}

func safeOnUnreliableReceive(logger *slog.Logger, cb Callbacks, ch *Channel, payload []byte, channelCtx any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("application OnUnreliableReceive panicked", slog.Any("panic", r))
		}
	}()
	cb.OnUnreliableReceive(ch, payload, cb.Global, channelCtx)
}

func safeOnDisconnect(logger *slog.Logger, cb Callbacks, ch *Channel, channelCtx any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("application OnDisconnect panicked", slog.Any("panic", r))
		}
	}()
	cb.OnDisconnect(ch, cb.Global, channelCtx)
}
