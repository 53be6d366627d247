package koi

import "sync/atomic"

// weakChannelContext stands in for §4.9's weak reference to an
// application-owned channel context object. Go has no general-purpose weak
// pointer usable across this API surface (a finalizer-backed weak.Pointer
// would require the application's object to support finalization, which
// this module cannot demand of arbitrary callers), so the "upgrade can
// fail" behavior is modeled instead with an explicit generation counter:
// invalidate bumps the generation, and any handle issued before that
// point reports ok=false on its next Load. This is documented in
// DESIGN.md as a stdlib-idiom substitution, not a dependency decision.
type weakChannelContext struct {
	generation atomic.Uint64
	value      atomic.Value // holds any
}

// set installs ctx as the current channel context and returns a handle
// that observes it until the next invalidate.
func (w *weakChannelContext) set(ctx any) handle {
	gen := w.generation.Add(1)
	w.value.Store(&ctx)
	return handle{owner: w, generation: gen}
}

// invalidate marks the current channel context as gone; any outstanding
// handle's next Load reports ok=false.
func (w *weakChannelContext) invalidate() {
	w.generation.Add(1)
	w.value.Store((*any)(nil))
}

// load returns the currently installed channel context, if any. Unlike a
// handle it always observes the live value rather than one frozen at
// issue time — used internally by the receive/disconnect paths, which
// always want "whatever is current", never a specific generation.
func (w *weakChannelContext) load() (ctx any, ok bool) {
	v, _ := w.value.Load().(*any)
	if v == nil {
		return nil, false
	}
	return *v, true
}

// handle is a weak reference to a channel context, matching §4.9's
// "channel_ctx slot is a weak reference to an application-owned object".
type handle struct {
	owner      *weakChannelContext
	generation uint64
}

// Load returns the channel context and true if it is still the one this
// handle was issued for; otherwise it returns (nil, false), the signal
// §4.9 says must reset the slot and abort the transport callback.
func (h handle) Load() (ctx any, ok bool) {
	if h.owner == nil || h.owner.generation.Load() != h.generation {
		return nil, false
	}
	v, _ := h.owner.value.Load().(*any)
	if v == nil {
		return nil, false
	}
	return *v, true
}
