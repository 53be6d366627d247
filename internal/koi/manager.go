package koi

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/koisyn/internal/config"
	koimetrics "github.com/dantte-lp/koisyn/internal/metrics"
	"github.com/dantte-lp/koisyn/internal/sentinel"
	"github.com/dantte-lp/koisyn/internal/transport"
)

// Manager is the session orchestrator (§4.7, C7): it owns the fixed
// N=16 slot table, the shared sentinel/secure-transport listener socket,
// the retry daemon, and the per-connection/per-stream event loops that
// translate quic-go's blocking API into the nine secure-transport
// "callback" behaviors §4.7 enumerates.
//
// A table of peer state guarded by lookups, started and stopped once,
// with a single owned background goroutine per long-running concern.
// Where a larger deployment might demux by an RWMutex-guarded map keyed
// on peer discriminators, KoiSyn's N=16 slot count is small enough that
// a try-lock linear scan (findMatching/findByPeerClient below) is both
// correct and the direct structural analog of that lookup.
type Manager struct {
	logger *slog.Logger

	callbacks Callbacks

	// creationMu serializes slot lookup-or-create across the handshake
	// receiver and inbound-connection paths (§4.7: "the returned
	// index is valid only under the session's creation lock held by the
	// caller").
	creationMu sync.Mutex
	slots      [NumSlots]ConnectionSlot

	sentinel           *sentinel.Sentinel
	listener           *transport.Listener
	transientAllocator *sentinel.TransientPortAllocator

	quicConf  *quic.Config
	serverTLS *tls.Config
	clientTLS *tls.Config

	sentinelPort uint16

	// cfg holds the session's configurable domain knobs (sentinel port,
	// certificate directory, retry-daemon timeouts), read once at Start
	// and by the retry daemon on every tick.
	cfg *config.KoiConfig

	// metrics is never nil: NewManager builds a private Collector against
	// its own registry when the caller doesn't supply one, so every call
	// site below can record unconditionally.
	metrics *koimetrics.Collector

	started atomic.Bool
	cancel  context.CancelFunc
	wg      errgroup.Group
}

// NewManager creates a Manager that has not yet bound any sockets; call
// Start to do so. A nil cfg falls back to config.DefaultConfig().Koi. A nil
// metrics falls back to a Collector registered against a private
// prometheus.Registry, so multiple Managers in one process (as in tests)
// never collide over shared metric names.
func NewManager(logger *slog.Logger, cfg *config.KoiConfig, metrics *koimetrics.Collector) *Manager {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults.Koi
	}
	if metrics == nil {
		metrics = koimetrics.NewCollector(prometheus.NewRegistry())
	}

	m := &Manager{
		logger:             logger.With(slog.String("component", "koi.manager")),
		transientAllocator: sentinel.NewTransientPortAllocator(),
		cfg:                cfg,
		metrics:            metrics,
	}
	for i := range m.slots {
		m.slots[i].index = i
		m.slots[i].mgr = m
	}
	return m
}

// Start binds the sentinel and secure-transport listener on m.cfg's
// SentinelPort (0 lets the OS choose) and launches the retry daemon and
// accept loop. Start is idempotent for an already-started Manager (§4.7:
// "Start is idempotent for a session with an already-bound sentinel").
// If m.cfg.CertDir is empty, the certificate is materialized under
// transport.TempDir() (§6's documented fallback) instead.
func (m *Manager) Start(cb Callbacks) (uint16, error) {
	if !m.started.CompareAndSwap(false, true) {
		return m.sentinelPort, nil
	}

	m.callbacks = cb.withDefaults()

	sen, err := sentinel.Bind(m.cfg.SentinelPort)
	if err != nil {
		m.started.Store(false)
		return 0, fmt.Errorf("start manager: %w", err)
	}
	m.sentinel = sen
	m.sentinelPort = sen.Port()

	certDir := m.cfg.CertDir
	if certDir == "" {
		certDir, err = transport.TempDir()
		if err != nil {
			_ = sen.Close()
			m.started.Store(false)
			return 0, fmt.Errorf("start manager: %w", err)
		}
	}

	cert, err := transport.EnsureCertificate(certDir)
	if err != nil {
		m.started.Store(false)
		return 0, fmt.Errorf("start manager: %w", err)
	}
	m.serverTLS = transport.NewServerTLSConfig(cert)
	m.clientTLS = transport.NewClientTLSConfig()
	m.quicConf = transport.NewQUICConfig()

	ln, err := transport.Listen(sen.PacketConn(), m.serverTLS, m.quicConf)
	if err != nil {
		_ = sen.Close()
		m.started.Store(false)
		return 0, fmt.Errorf("start manager: %w", err)
	}
	m.listener = ln

	m.sentinel.RegisterRecvCallback(m.handleSentinelPacket)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Go(func() error { m.runListenerLoop(ctx); return nil })
	m.wg.Go(func() error { m.runRetryDaemon(ctx); return nil })

	return m.sentinelPort, nil
}

// Close signals the retry daemon and accept loop to exit, joins them, then
// destructively closes every slot (§4.7: "the destructor signals the
// retry daemon to exit, joins it, then for each slot performs destructive
// close").
func (m *Manager) Close() error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}

	m.cancel()
	if err := m.listener.Close(); err != nil {
		m.logger.Warn("close listener", slog.String("error", err.Error()))
	}
	if err := m.sentinel.Close(); err != nil {
		m.logger.Warn("close sentinel", slog.String("error", err.Error()))
	}
	_ = m.wg.Wait() // spawned goroutines never return a non-nil error

	for i := range m.slots {
		slot := &m.slots[i]
		slot.mu.Lock()
		slot.resetChannels()
		slot.mu.Unlock()
	}

	return nil
}

// findMatching implements §4.7's slot lookup: try-lock each slot in
// turn (never block; contended slots are skipped), returning the first
// slot whose stored remote sentinel equals query, or otherwise the first
// free slot found along the way. Callers must hold creationMu.
func (m *Manager) findMatching(remoteSentinel netip.AddrPort) (matched bool, index int) {
	index = -1
	for i := range m.slots {
		s := &m.slots[i]
		if !s.mu.TryLock() {
			continue
		}
		switch {
		case !s.isFree() && s.remoteSentinel == remoteSentinel:
			s.mu.Unlock()
			return true, i
		case index == -1 && s.isFree():
			index = i
		}
		s.mu.Unlock()
	}
	return false, index
}

// findByPeerClient locates the slot whose RemoteClient port and remote
// sentinel address match an inbound secure-transport connection's peer
// address (§4.7 "listener new-connection": "look up the slot whose
// RemoteClient port equals the connection's peer port and whose remote
// sentinel IP matches").
func (m *Manager) findByPeerClient(peer netip.AddrPort) (*ConnectionSlot, bool) {
	for i := range m.slots {
		s := &m.slots[i]
		if !s.mu.TryLock() {
			continue
		}
		if !s.isFree() && s.quad.RemoteClient == peer.Port() && s.remoteSentinel.Addr() == peer.Addr() {
			s.mu.Unlock()
			return s, true
		}
		s.mu.Unlock()
	}
	return nil, false
}

// runActions executes the side effects named by an FSM transition, in
// order. It never assumes the caller holds the slot's lock: each action
// acquires whatever locks it individually needs, since some actions
// (ActionStartClient in particular) must themselves take the slot lock
// per §4.6 step 1's double-start guard.
func (m *Manager) runActions(slot *ConnectionSlot, actions []Action) {
	// Captured before any ActionResetSlot below invalidates it, so
	// ActionNotifyDisconnect still delivers the context the slot held.
	discCtx, _ := slot.channelCtx.load()
	for _, a := range actions {
		switch a {
		case ActionReserveTransientPort:
			m.reserveTransientPort(slot)
		case ActionSendPacket1:
			m.sendHandshakePacket(slot, packetKind1)
		case ActionFirewallChallenge:
			m.sendFirewallChallenge(slot)
		case ActionSendPacket2:
			m.sendHandshakePacket(slot, packetKind2)
		case ActionSendPacket3:
			m.sendHandshakePacket(slot, packetKind3)
		case ActionStartClient:
			m.startClient(slot)
		case ActionClearHandshakeBegin:
			slot.mu.Lock()
			slot.handshakeBegin = time.Time{}
			slot.mu.Unlock()
		case ActionResetSlot:
			slot.mu.Lock()
			slot.resetChannels()
			slot.mu.Unlock()
		case ActionNotifyDisconnect:
			m.notifyDisconnect(slot, discCtx)
		case ActionBeginTeardown:
			m.beginTeardown(slot)
		}
	}
}

// -------------------------------------------------------------------------
// Rendezvous handshake receiver logic (§4.6)
// -------------------------------------------------------------------------

// handleSentinelPacket is registered as the sentinel's RecvFunc. It
// classifies and dispatches one inbound UDP datagram on the rendezvous
// socket; non-8-byte datagrams (e.g. a peer's firewall-challenge nonce)
// are silently dropped, matching §4.2's "a receive of zero length is
// ignored" generalized to "anything that doesn't parse is ignored".
func (m *Manager) handleSentinelPacket(b []byte, remote netip.AddrPort) {
	q, ok := decodeHandshakePacket(b)
	if !ok {
		return
	}

	switch classifyHandshakePacket(q) {
	case packetKind1:
		m.handlePacket1(remote, q)
	case packetKind2:
		m.handlePacket2(remote, q)
	case packetKind3:
		m.handlePacket3(remote, q)
	default:
		// Unknown combination (e.g. all-zero quad) — drop.
	}
}

// handlePacket1 implements §4.6's packet-1 receiver logic:
// find-or-create a slot, reject a repeat on an already-connected slot,
// record the remote ports, and (for a newly-created slot only) stamp
// HandshakeBegin and claim a sentinel identity.
func (m *Manager) handlePacket1(remote netip.AddrPort, q PortQuad) {
	m.creationMu.Lock()
	defer m.creationMu.Unlock()

	matched, idx := m.findMatching(remote)
	if idx < 0 {
		m.logger.Warn("packet 1 dropped: no free slot", slog.String("remote", remote.String()))
		return
	}
	slot := &m.slots[idx]

	slot.mu.Lock()
	if matched && slot.state == StateConnected {
		slot.mu.Unlock()
		return
	}

	slot.remoteSentinel = remote
	slot.quad.RemoteServer = q.RemoteServer
	slot.quad.RemoteClient = q.RemoteClient
	if !matched {
		slot.quad.LocalServer = m.sentinelPort
		slot.handshakeBegin = time.Now()
	}

	result := ApplyEvent(slot.state, EventRecvPacket1)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)
}

// handlePacket2 implements §4.6's packet-2 receiver logic.
func (m *Manager) handlePacket2(remote netip.AddrPort, q PortQuad) {
	m.creationMu.Lock()
	matched, idx := m.findMatching(remote)
	m.creationMu.Unlock()

	if !matched {
		return
	}
	slot := &m.slots[idx]

	slot.mu.Lock()
	if slot.state == StateConnected {
		slot.mu.Unlock()
		return
	}
	slot.quad.RemoteServer = q.RemoteServer
	slot.quad.RemoteClient = q.RemoteClient

	result := ApplyEvent(slot.state, EventRecvPacket2)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)
}

// handlePacket3 implements §4.6's packet-3 receiver logic.
func (m *Manager) handlePacket3(remote netip.AddrPort, _ PortQuad) {
	m.creationMu.Lock()
	matched, idx := m.findMatching(remote)
	m.creationMu.Unlock()

	if !matched {
		return
	}
	slot := &m.slots[idx]

	slot.mu.Lock()
	if slot.state == StateConnected {
		slot.mu.Unlock()
		return
	}
	result := ApplyEvent(slot.state, EventRecvPacket3)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)
}

// reserveTransientPort binds the per-handshake transient local-client
// socket (§4.6 step "newly-created slot" path) and records its port
// in the slot's quad.
func (m *Manager) reserveTransientPort(slot *ConnectionSlot) {
	conn, port, err := m.transientAllocator.Reserve(context.Background())
	if err != nil {
		m.logger.Error("reserve transient port failed", slog.String("error", err.Error()))
		return
	}

	slot.mu.Lock()
	slot.transientSocket = conn
	slot.transientPort = port
	slot.quad.LocalClient = port
	slot.mu.Unlock()
}

// sendFirewallChallenge sends the 2-byte dummy packet to the peer's
// local-client port from the sentinel's socket (§4.6: "from the
// local listener's UDP socket").
func (m *Manager) sendFirewallChallenge(slot *ConnectionSlot) {
	slot.mu.Lock()
	target := netip.AddrPortFrom(slot.remoteSentinel.Addr(), slot.quad.RemoteClient)
	slot.mu.Unlock()

	if target.Port() == 0 {
		return
	}
	if err := m.sentinel.SendFirewallChallenge(target); err != nil {
		m.logger.Warn("firewall challenge failed", slog.String("error", err.Error()))
		return
	}
	m.metrics.IncHandshakePacket("firewall_challenge")
}

// sendHandshakePacket emits a rendezvous packet of the given kind using
// the slot's current port quad (§4.6: packet 1 is "our locals, their
// remotes zeroed"; packet 2 is "our locals + their remotes"; packet 3 is
// "our locals zeroed, their remotes echoed").
func (m *Manager) sendHandshakePacket(slot *ConnectionSlot, kind packetKind) {
	slot.mu.Lock()
	q := slot.quad
	remote := slot.remoteSentinel
	slot.mu.Unlock()

	var wire []byte
	switch kind {
	case packetKind1:
		wire = encodeHandshakePacket(q.LocalServer, q.LocalClient, 0, 0)
	case packetKind2:
		wire = encodeHandshakePacket(q.LocalServer, q.LocalClient, q.RemoteServer, q.RemoteClient)
	case packetKind3:
		wire = encodeHandshakePacket(0, 0, q.RemoteServer, q.RemoteClient)
	default:
		return
	}

	if err := m.sentinel.SendTo(remote, wire); err != nil {
		m.logger.Warn("send handshake packet failed", slog.String("error", err.Error()))
		return
	}
	m.metrics.IncHandshakePacket(kind.metricLabel())
}

// ConnectTo claims a free slot and begins an outbound handshake
// (§4.6's ConnectTo entry point, the EventConnectRequested transition).
func (m *Manager) ConnectTo(remote netip.AddrPort) error {
	m.creationMu.Lock()
	defer m.creationMu.Unlock()

	matched, idx := m.findMatching(remote)
	if matched {
		return nil // already handshaking or connected
	}
	if idx < 0 {
		return fmt.Errorf("connect to %s: %w", remote, ErrSlotsExhausted)
	}

	slot := &m.slots[idx]
	slot.mu.Lock()
	slot.remoteSentinel = remote
	slot.quad.LocalServer = m.sentinelPort
	slot.handshakeBegin = time.Now()
	result := ApplyEvent(slot.state, EventConnectRequested)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)
	return nil
}

// -------------------------------------------------------------------------
// start_client (§4.6)
// -------------------------------------------------------------------------

// startClient implements §4.6's start_client(slot): open one
// outbound secure-transport connection reusing the punched transient
// socket, open its four reliable streams, invoke on_accept, and commit
// the handles to the slot — or reset on any failure along the way.
func (m *Manager) startClient(slot *ConnectionSlot) {
	slot.unreliable.mu.Lock()
	if slot.unreliable.self != nil {
		slot.unreliable.mu.Unlock()
		return // double-start guard (§4.6 step 1)
	}
	slot.unreliable.mu.Unlock()

	slot.mu.Lock()
	quad := slot.quad
	remoteSentinelAddr := slot.remoteSentinel.Addr()
	transientConn := slot.transientSocket
	transientPort := slot.transientPort
	slot.mu.Unlock()

	if transientConn == nil {
		m.logger.Error("start_client: no transient socket reserved")
		return
	}

	ctx := context.Background()
	remote := netip.AddrPortFrom(remoteSentinelAddr, quad.RemoteServer)

	conn, err := transport.Dial(ctx, transientConn, remote, m.clientTLS, m.quicConf)
	if err != nil {
		m.logger.Warn("start_client dial failed", slog.String("error", err.Error()))
		m.transientAllocator.Release(transientPort)
		return
	}

	// The punched socket's lifecycle now belongs to the connection;
	// forget it without closing (closing here would kill the dial quic-go
	// just performed on it — §4.6 step 4's "close the transient
	// socket" assumes the underlying OS descriptor is duplicated, which
	// quic-go's PacketConn ownership model does not do).
	m.transientAllocator.Forget(transientPort)

	streams := make([]*transport.Stream, NumLanes)
	for i := range streams {
		s, openErr := conn.OpenStream(ctx)
		if openErr != nil {
			m.logger.Warn("start_client open stream failed", slog.String("error", openErr.Error()))
			for _, opened := range streams {
				if opened != nil {
					opened.Release()
				}
			}
			conn.Release()
			return
		}
		streams[i] = s
	}

	ch := &Channel{mgr: m, slot: slot}
	var appCtx any
	if !safeOnAccept(m.logger, m.callbacks, ch, &appCtx) || appCtx == nil {
		for _, s := range streams {
			s.Release()
		}
		conn.Release()
		slot.mu.Lock()
		slot.resetChannels()
		slot.mu.Unlock()
		return
	}

	slot.unreliable.mu.Lock()
	slot.unreliable.self = conn
	slot.unreliable.mu.Unlock()

	for i, s := range streams {
		slot.reliable[i].mu.Lock()
		slot.reliable[i].self = s
		slot.reliable[i].mu.Unlock()
	}

	slot.mu.Lock()
	slot.channelCtx.set(appCtx)
	slot.refcount.Add(1)
	result := ApplyEvent(slot.state, EventTransportConnected)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)

	conn.Retain()
	m.wg.Go(func() error { m.watchConnectionDone(slot, conn); return nil })
	m.wg.Go(func() error { m.runDatagramRecvLoop(slot, conn); return nil })
	for i, s := range streams {
		s.Retain()
		lane := Lane(i) //nolint:gosec // G115: i < NumLanes (4).
		m.wg.Go(func() error { m.runStreamEventLoop(slot, lane, s); return nil })
	}
}

// -------------------------------------------------------------------------
// Inbound secure-transport connections (§4.7 "listener new-connection")
// -------------------------------------------------------------------------

func (m *Manager) runListenerLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept(ctx)
		if err != nil {
			return
		}
		go m.handleInboundConnection(conn)
	}
}

// handleInboundConnection implements §4.7's "listener new-connection"
// behavior: match the connection's peer address against a slot's known
// RemoteClient/remote-sentinel identity, refusing (closing) anything that
// did not complete the UDP rendezvous first.
func (m *Manager) handleInboundConnection(conn *transport.Connection) {
	peer, ok := addrPortFromNetAddr(conn.RemoteAddr())
	if !ok {
		conn.Release()
		return
	}

	m.creationMu.Lock()
	slot, found := m.findByPeerClient(peer)
	m.creationMu.Unlock()

	if !found {
		conn.Release() // connection-refused: no matching rendezvous slot
		return
	}

	slot.unreliable.mu.Lock()
	slot.unreliable.peer = conn
	slot.unreliable.mu.Unlock()

	slot.mu.Lock()
	slot.refcount.Add(1)
	result := ApplyEvent(slot.state, EventTransportConnected)
	slot.state = result.NewState
	slot.mu.Unlock()

	m.runActions(slot, result.Actions)

	conn.Retain()
	m.wg.Go(func() error { m.watchConnectionDone(slot, conn); return nil })
	m.wg.Go(func() error { m.runDatagramRecvLoop(slot, conn); return nil })

	m.wg.Go(func() error { m.acceptPeerStreams(slot, conn); return nil })
}

// acceptPeerStreams implements §4.7's "peer stream started" behavior:
// accept up to NumLanes incoming streams on an inbound connection, map
// each to a reliable lane by its decoded stream id, and store it as that
// lane's peer-side handle.
func (m *Manager) acceptPeerStreams(slot *ConnectionSlot, conn *transport.Connection) {
	for i := 0; i < NumLanes; i++ {
		s, err := conn.AcceptStream(conn.Context())
		if err != nil {
			return
		}
		lane := s.Lane()

		s.Retain()
		if int(lane) < NumLanes {
			slot.reliable[lane].mu.Lock()
			slot.reliable[lane].peer = s
			slot.reliable[lane].mu.Unlock()
		}

		m.wg.Go(func() error { m.runStreamEventLoop(slot, lane, s); return nil })
	}
}

// -------------------------------------------------------------------------
// Per-connection event loops (§4.7)
// -------------------------------------------------------------------------

// watchConnectionDone implements §4.7's "connection shutdown-complete"
// behavior: once the underlying secure-transport connection closes (either
// side), drop its handles, decrement the slot refcount, and — if it
// reached zero — deliver on_disconnect and reset the slot.
func (m *Manager) watchConnectionDone(slot *ConnectionSlot, conn *transport.Connection) {
	<-conn.Context().Done()

	slot.mu.Lock()
	slot.shutdownSide(conn.Side())
	rc := slot.refcount.Load()
	var result FSMResult
	if rc <= 0 {
		result = ApplyEvent(slot.state, EventRefcountZero)
		slot.state = result.NewState
	}
	slot.mu.Unlock()

	if rc <= 0 {
		m.runActions(slot, result.Actions)
	}
	conn.Release()
}

// runDatagramRecvLoop implements §4.7's "datagram received" and
// "datagram state changed" behaviors for one connection.
func (m *Manager) runDatagramRecvLoop(slot *ConnectionSlot, conn *transport.Connection) {
	slot.unreliable.maxSendLength.Store(uint32(conn.MaxDatagramSize())) //nolint:gosec // G115: MaxDatagramSize is small.
	ticker := time.NewTicker(datagramMaxSizePollInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			b, err := conn.ReceiveDatagram(conn.Context())
			if err != nil {
				return
			}
			m.handleDatagram(slot, b)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			slot.unreliable.maxSendLength.Store(uint32(conn.MaxDatagramSize())) //nolint:gosec // G115: MaxDatagramSize is small.
		}
	}
}

// datagramMaxSizePollInterval governs how often MaxSendLength is refreshed
// from the connection's current path MTU estimate.
const datagramMaxSizePollInterval = 2 * time.Second

// handleDatagram implements §4.7's "datagram received" dedup rule:
// accept only the next strictly-expected packet number.
func (m *Manager) handleDatagram(slot *ConnectionSlot, b []byte) {
	if len(b) < prefixLen {
		return
	}
	num := binary.BigEndian.Uint32(b[:prefixLen])

	l := &slot.unreliable
	l.mu.Lock()
	accept := num == l.nextRecvPacket
	if accept {
		l.nextRecvPacket++
	}
	l.mu.Unlock()
	if !accept {
		return
	}
	m.metrics.AddBytesReceived("unreliable", len(b)-prefixLen)

	ctx, ok := slot.channelCtx.load()
	if !ok {
		return
	}
	ch := &Channel{mgr: m, slot: slot}
	safeOnUnreliableReceive(m.logger, m.callbacks, ch, b[prefixLen:], ctx)
}

// runStreamEventLoop implements §4.7's "stream receive" behavior for
// one stream handle (self or peer side) of one reliable lane.
func (m *Manager) runStreamEventLoop(slot *ConnectionSlot, lane Lane, stream *transport.Stream) {
	defer stream.Release()

	buf := make([]byte, streamReadBufferSize)
	for {
		n, absOffset, err := stream.ReadChunk(buf)
		if n > 0 && !m.handleStreamReceive(slot, lane, absOffset, buf[:n]) {
			return // corruption: teardown already initiated
		}
		if err != nil {
			return
		}
	}
}

// streamReadBufferSize is the per-read chunk size for reliable lanes.
const streamReadBufferSize = 64 * 1024

// handleStreamReceive implements §4.7's "stream receive" reassembly
// and framing algorithm. It reports false if a reassembly gap was
// detected (corrupt state), in which case it has already initiated
// teardown.
func (m *Manager) handleStreamReceive(slot *ConnectionSlot, lane Lane, absOffset uint64, chunk []byte) bool {
	l := &slot.reliable[lane]
	l.mu.Lock()

	end := absOffset + uint64(len(chunk)) //nolint:gosec // G115: len(chunk) is bounded by streamReadBufferSize.
	if end <= l.nextRecvByte {
		l.mu.Unlock()
		return true // duplicate already delivered via the twin stream
	}
	if absOffset > l.nextRecvByte {
		l.mu.Unlock()
		m.handleStreamCorruption(slot)
		return false
	}

	fresh := chunk[l.nextRecvByte-absOffset:]
	l.buffer = append(l.buffer, fresh...)
	l.nextRecvByte = end
	m.metrics.AddBytesReceived(laneMetricLabel(lane), len(fresh))

	var deliveries [][]byte
	for len(l.buffer) >= prefixLen {
		length := binary.BigEndian.Uint32(l.buffer[:prefixLen])
		if uint64(len(l.buffer)) < uint64(length)+prefixLen {
			break
		}
		msg := make([]byte, length)
		copy(msg, l.buffer[prefixLen:prefixLen+length])
		deliveries = append(deliveries, msg)
		l.buffer = l.buffer[prefixLen+length:]
	}
	l.mu.Unlock()

	if len(deliveries) == 0 {
		return true
	}
	ctx, ok := slot.channelCtx.load()
	if !ok {
		return true
	}
	ch := &Channel{mgr: m, slot: slot}
	for _, msg := range deliveries {
		safeOnReliableReceive(m.logger, m.callbacks, lane, ch, msg, ctx)
	}
	return true
}

func (m *Manager) handleStreamCorruption(slot *ConnectionSlot) {
	m.metrics.IncStreamCorruptions()

	slot.mu.Lock()
	result := ApplyEvent(slot.state, EventStreamCorruption)
	slot.state = result.NewState
	slot.mu.Unlock()
	m.runActions(slot, result.Actions)
}

// laneMetricLabel returns the BytesSent/BytesReceived counter label for a
// reliable lane ("lane0".."lane3"); the unreliable lane uses the literal
// "unreliable" label at its own call sites.
func laneMetricLabel(lane Lane) string {
	return fmt.Sprintf("lane%d", lane)
}

// notifyDisconnect delivers the application on_disconnect hook with ctx,
// the channel context the slot held before the transition's reset (nil
// when none was ever installed, as on a handshake timeout).
func (m *Manager) notifyDisconnect(slot *ConnectionSlot, ctx any) {
	ch := &Channel{mgr: m, slot: slot}
	safeOnDisconnect(m.logger, m.callbacks, ch, ctx)
}

// beginTeardown implements ActionBeginTeardown: release every live stream
// and connection handle owned by this slot. Each Release's last-reference
// close unblocks the corresponding watchConnectionDone/runStreamEventLoop
// goroutine, which performs the actual shutdownSide bookkeeping and
// refcount-driven reset. A slot whose refcount is already zero (no
// connection was ever established) is reset here directly.
func (m *Manager) beginTeardown(slot *ConnectionSlot) {
	var selfStreams, peerStreams [NumLanes]*transport.Stream
	for i := range slot.reliable {
		slot.reliable[i].mu.Lock()
		selfStreams[i] = slot.reliable[i].self
		peerStreams[i] = slot.reliable[i].peer
		slot.reliable[i].mu.Unlock()
	}

	slot.unreliable.mu.Lock()
	selfConn, peerConn := slot.unreliable.self, slot.unreliable.peer
	slot.unreliable.mu.Unlock()

	for i := range selfStreams {
		if selfStreams[i] != nil {
			selfStreams[i].Release()
		}
		if peerStreams[i] != nil {
			peerStreams[i].Release()
		}
	}
	if selfConn != nil {
		selfConn.Release()
	}
	if peerConn != nil {
		peerConn.Release()
	}

	slot.mu.Lock()
	var result FSMResult
	drained := slot.state == StateTearingDown && slot.refcount.Load() <= 0
	if drained {
		result = ApplyEvent(slot.state, EventRefcountZero)
		slot.state = result.NewState
	}
	slot.mu.Unlock()
	if drained {
		m.runActions(slot, result.Actions)
	}
}

// addrPortFromNetAddr extracts a netip.AddrPort from a net.Addr produced
// by the UDP-backed transport layer.
func addrPortFromNetAddr(a net.Addr) (netip.AddrPort, bool) {
	udp, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return udp.AddrPort(), true
}
