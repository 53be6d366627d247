package koi

// This file implements the per-slot finite-state machine described in
// §9 ("Simultaneous open"): a slot moves through
// {Free, Handshaking, Connected, TearingDown} as the rendezvous handshake
// and the twinned secure-transport connections progress. As with the
// teacher's BFD FSM, this is a pure function over a transition table — no
// side effects, no Manager dependency — so it is trivially testable in
// isolation from socket and transport code.
//
// State diagram:
//
//	         connect_to / recv packet1      recv packet2/3,
//	   +--+  ------------------------>  +-------------+  transport connected
//	   |  |                             |             |  ------------------>
//	   V  |                             | Handshaking |                    \
//	 +------+  refcount reaches zero    |             |                     V
//	 | Free |<-------------------------+--------------+              +-----------+
//	 +------+  <-------------------------------------------------+   | Connected |
//	     ^      timeout (long: silent; short: notify disconnect)  |   +-----------+
//	     |                                                        |         |
//	     |                  refcount reaches zero                 | disconnect /
//	     +--------------------------------------------------------+ corruption
//	     ^                                                                  |
//	     |                          refcount reaches zero                  V
//	     +-----------------------------------------------------+  TearingDown
//
// Disconnect and corruption move a Handshaking slot to TearingDown too,
// the same as from Connected.

// State is a slot's position in the connection lifecycle.
type State uint8

const (
	// StateFree means the slot's PortQuad is all-zero and its refcount is
	// zero: no handshake pending, nothing connected.
	StateFree State = iota

	// StateHandshaking means HandshakeBegin != 0: the rendezvous exchange
	// is in progress, one or more secure-transport connections may already
	// be starting.
	StateHandshaking

	// StateConnected means HandshakeBegin == 0 and the slot holds live
	// transport handles.
	StateConnected

	// StateTearingDown means a disconnect (explicit or corruption-driven)
	// has been requested; the slot is waiting for its refcount to drain
	// to zero before becoming Free again.
	StateTearingDown
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateTearingDown:
		return "TearingDown"
	default:
		return "Unknown"
	}
}

// Event is an input to the slot FSM.
type Event uint8

const (
	// EventConnectRequested is the local ConnectTo call claiming a free
	// slot and sending handshake packet 1 outbound.
	EventConnectRequested Event = iota

	// EventRecvPacket1 is receipt of an inbound handshake packet 1.
	EventRecvPacket1

	// EventRecvPacket2 is receipt of an inbound handshake packet 2.
	EventRecvPacket2

	// EventRecvPacket3 is receipt of an inbound handshake packet 3.
	EventRecvPacket3

	// EventTransportConnected is the secure transport's "connection
	// connected" callback (§4.7).
	EventTransportConnected

	// EventHandshakeTimeoutLong is the retry daemon's 60s giveup: no
	// peer ports were ever learned.
	EventHandshakeTimeoutLong

	// EventHandshakeTimeoutShort is the retry daemon's 12s giveup: peer
	// ports were known but the handshake never completed.
	EventHandshakeTimeoutShort

	// EventRefcountZero is delivered once a slot's atomic refcount drains
	// to zero after both directional handles are gone.
	EventRefcountZero

	// EventDisconnectRequested is an explicit application-initiated
	// Channel.Disconnect() call.
	EventDisconnectRequested

	// EventStreamCorruption is a reliable-lane reassembly gap (§4.7,
	// "this indicates corrupt state"): always a hard reset.
	EventStreamCorruption
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventConnectRequested:
		return "ConnectRequested"
	case EventRecvPacket1:
		return "RecvPacket1"
	case EventRecvPacket2:
		return "RecvPacket2"
	case EventRecvPacket3:
		return "RecvPacket3"
	case EventTransportConnected:
		return "TransportConnected"
	case EventHandshakeTimeoutLong:
		return "HandshakeTimeoutLong"
	case EventHandshakeTimeoutShort:
		return "HandshakeTimeoutShort"
	case EventRefcountZero:
		return "RefcountZero"
	case EventDisconnectRequested:
		return "DisconnectRequested"
	case EventStreamCorruption:
		return "StreamCorruption"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect the caller must execute after a
// transition. The FSM itself never performs I/O.
type Action uint8

const (
	// ActionReserveTransientPort binds a fresh local-client UDP socket
	// (§4.6 step 1 of the newly-created-slot path).
	ActionReserveTransientPort Action = iota + 1

	// ActionSendPacket1 emits handshake packet 1 (outbound ConnectTo).
	ActionSendPacket1

	// ActionFirewallChallenge sends the 2-byte dummy packet to the
	// sender's local-client port from the listener's socket.
	ActionFirewallChallenge

	// ActionSendPacket2 emits handshake packet 2.
	ActionSendPacket2

	// ActionSendPacket3 emits handshake packet 3.
	ActionSendPacket3

	// ActionStartClient runs start_client(slot): open the outbound
	// secure-transport connection and its four streams (§4.6).
	ActionStartClient

	// ActionClearHandshakeBegin zeroes the slot's handshake-start
	// timestamp, marking it "idle or fully connected".
	ActionClearHandshakeBegin

	// ActionResetSlot calls reset_channels(): drop handles, clear
	// reassembly buffers, zero the PortQuad, release the transient
	// socket (§4.5).
	ActionResetSlot

	// ActionNotifyDisconnect invokes the application's on_disconnect
	// callback.
	ActionNotifyDisconnect

	// ActionBeginTeardown starts shutdown_side on both directional
	// handles; the slot waits in TearingDown until the refcount drains.
	ActionBeginTeardown
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionReserveTransientPort:
		return "ReserveTransientPort"
	case ActionSendPacket1:
		return "SendPacket1"
	case ActionFirewallChallenge:
		return "FirewallChallenge"
	case ActionSendPacket2:
		return "SendPacket2"
	case ActionSendPacket3:
		return "SendPacket3"
	case ActionStartClient:
		return "StartClient"
	case ActionClearHandshakeBegin:
		return "ClearHandshakeBegin"
	case ActionResetSlot:
		return "ResetSlot"
	case ActionNotifyDisconnect:
		return "NotifyDisconnect"
	case ActionBeginTeardown:
		return "BeginTeardown"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects for one
// (state, event) pair.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to
	// OldState when the event is ignored or a self-loop.
	NewState State

	// Actions lists the side effects the caller must execute, in order.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete slot transition table.
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// Free: ConnectTo claims the slot and reserves a transient port.
	{StateFree, EventConnectRequested}: {
		newState: StateHandshaking,
		actions:  []Action{ActionReserveTransientPort, ActionSendPacket1},
	},

	// Free: inbound packet 1 on a previously-unused slot (§4.6,
	// "newly-created slot" path) — firewall-challenge, reserve a port,
	// respond with packet 2.
	{StateFree, EventRecvPacket1}: {
		newState: StateHandshaking,
		actions: []Action{
			ActionFirewallChallenge,
			ActionReserveTransientPort,
			ActionSendPacket2,
		},
	},

	// Handshaking: repeat/simultaneous packet 1 — the slot already has
	// locally-chosen ports; §9's simultaneous-open rule says don't
	// allocate a new transient socket or overwrite local ports, just
	// challenge and re-respond with packet 2.
	{StateHandshaking, EventRecvPacket1}: {
		newState: StateHandshaking,
		actions:  []Action{ActionFirewallChallenge, ActionSendPacket2},
	},

	// Connected: a repeat packet 1 for an already-connected peer is
	// dropped outright (§4.6, "Packet 1... drop").
	{StateConnected, EventRecvPacket1}: {
		newState: StateConnected,
		actions:  nil,
	},

	// Handshaking: packet 2 — challenge, respond with packet 3, then
	// start_client.
	{StateHandshaking, EventRecvPacket2}: {
		newState: StateHandshaking,
		actions: []Action{
			ActionFirewallChallenge,
			ActionSendPacket3,
			ActionStartClient,
		},
	},

	// Handshaking: packet 3 — start_client only (idempotent: start_client
	// itself guards against a double start under the slot lock).
	{StateHandshaking, EventRecvPacket3}: {
		newState: StateHandshaking,
		actions:  []Action{ActionStartClient},
	},

	// Handshaking -> Connected: the secure transport's "connected"
	// callback fires once per directional connection; either may arrive
	// first, but the first one to land clears HandshakeBegin.
	{StateHandshaking, EventTransportConnected}: {
		newState: StateConnected,
		actions:  []Action{ActionClearHandshakeBegin},
	},

	// Connected: the twin connection's "connected" callback is a no-op
	// self-loop (HandshakeBegin already cleared).
	{StateConnected, EventTransportConnected}: {
		newState: StateConnected,
		actions:  nil,
	},

	// Handshaking -> Free: long timeout, ports never learned — silent
	// reset (§4.6 retry daemon, §7 "long: silent reset").
	{StateHandshaking, EventHandshakeTimeoutLong}: {
		newState: StateFree,
		actions:  []Action{ActionResetSlot},
	},

	// Handshaking -> Free: short timeout, ports were known — reset and
	// notify the application (§7 "short: reset and invoke
	// on_disconnect").
	{StateHandshaking, EventHandshakeTimeoutShort}: {
		newState: StateFree,
		actions:  []Action{ActionResetSlot, ActionNotifyDisconnect},
	},

	// Connected -> Free: both directional handles dropped after a live
	// connection (§4.7 "connection shutdown-complete").
	{StateConnected, EventRefcountZero}: {
		newState: StateFree,
		actions:  []Action{ActionResetSlot, ActionNotifyDisconnect},
	},

	// Handshaking -> Free: a directional handle dropped mid-handshake
	// (e.g. a half-open connection attempt was abandoned) without ever
	// reaching Connected — reset silently, no disconnect was ever
	// observed by the application.
	{StateHandshaking, EventRefcountZero}: {
		newState: StateFree,
		actions:  []Action{ActionResetSlot},
	},

	// TearingDown -> Free: the teardown drain completed.
	{StateTearingDown, EventRefcountZero}: {
		newState: StateFree,
		actions:  []Action{ActionResetSlot},
	},

	// Any live state -> TearingDown: explicit disconnect.
	{StateHandshaking, EventDisconnectRequested}: {
		newState: StateTearingDown,
		actions:  []Action{ActionBeginTeardown},
	},
	{StateConnected, EventDisconnectRequested}: {
		newState: StateTearingDown,
		actions:  []Action{ActionBeginTeardown},
	},

	// Any live state -> TearingDown: reassembly corruption is always a
	// hard reset (§7, §4.7 "reset the slot and abort").
	{StateHandshaking, EventStreamCorruption}: {
		newState: StateTearingDown,
		actions:  []Action{ActionBeginTeardown},
	},
	{StateConnected, EventStreamCorruption}: {
		newState: StateTearingDown,
		actions:  []Action{ActionBeginTeardown},
	},
}

// ApplyEvent looks up the (currentState, event) pair in the transition
// table and returns the resulting FSMResult. Unlisted pairs are silently
// ignored: the event has no effect in that state, matching §7's rule
// that most error conditions fail closed rather than surface synchronously.
func ApplyEvent(currentState State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
