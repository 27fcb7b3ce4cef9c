// Package connmgr owns every live socket (spec §4.7): it dials
// outgoing connections to known peers with backoff, accepts incoming
// ones, enforces "newer connection wins" when a second incoming
// connection from the same peer completes its handshake, and
// demultiplexes every inbound NetworkData frame to
// either the discovery component or the session registry. It is the
// only place session.Sender and discovery.Sender implementations
// live, since only the manager knows which peer has a live outgoing
// worker at any moment — mirroring how device.Device in the stack
// this module is built on is the single owner of its peers.keyMap and
// every routing decision that depends on it.
package connmgr

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/quorumlayer/valnet/config"
	"github.com/quorumlayer/valnet/discovery"
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/netlog"
	"github.com/quorumlayer/valnet/session"
	"github.com/quorumlayer/valnet/wire"
	"github.com/quorumlayer/valnet/worker"
)

// DialFunc opens a connection to addr. It is injected so tests can
// substitute an in-memory transport instead of real sockets.
type DialFunc func(ctx context.Context, addr identity.Multiaddress) (net.Conn, error)

// NetDialer returns the production DialFunc, dialing TCP addresses
// with the standard library's net.Dialer. QUIC addresses are rejected
// until a QUIC transport is wired in (spec §4.1 lists QUIC as a
// Non-goal for the reference transport).
func NetDialer() DialFunc {
	var d net.Dialer
	return func(ctx context.Context, addr identity.Multiaddress) (net.Conn, error) {
		if addr.Transport != identity.TransportTCP {
			return nil, &UnsupportedTransportError{Transport: addr.Transport}
		}
		return d.DialContext(ctx, "tcp", addr.String()[len("tcp://"):])
	}
}

// Manager coordinates every peer connection for one validator. One
// Manager instance is shared across every session the local validator
// participates in, since the connection layer is session-agnostic
// (spec §4.1, "session-independent network core").
type Manager struct {
	selfID  identity.ValidatorId
	selfKey identity.SigningKey
	cfg     config.Config
	log     netlog.Logger
	dial    DialFunc

	registry  *session.Registry
	discovery *discovery.Discovery

	ctx    context.Context
	cancel context.CancelFunc

	userSinkCtx    context.Context
	userSinkCancel context.CancelFunc

	inbound chan worker.InboundMessage

	mu         sync.RWMutex
	outgoing   map[identity.ValidatorId]worker.OutgoingHandle
	incoming   map[identity.ValidatorId]worker.IncomingHandle
	dialCancel map[identity.ValidatorId]context.CancelFunc

	statsMu  sync.Mutex
	outStats map[identity.ValidatorId]*counters
	inStats  map[identity.ValidatorId]*counters

	wg sync.WaitGroup
}

const inboundFanInSize = 1024

// NewManager constructs a Manager for selfID/selfKey. dial is used for
// every outgoing connection attempt; pass NetDialer() for production
// use or a fake for tests.
func NewManager(selfID identity.ValidatorId, selfKey identity.SigningKey, cfg config.Config, log netlog.Logger, dial DialFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	userSinkCtx, userSinkCancel := context.WithCancel(context.Background())
	return &Manager{
		selfID:         selfID,
		selfKey:        selfKey,
		cfg:            cfg,
		log:            log,
		dial:           dial,
		ctx:            ctx,
		cancel:         cancel,
		userSinkCtx:    userSinkCtx,
		userSinkCancel: userSinkCancel,
		inbound:        make(chan worker.InboundMessage, inboundFanInSize),
		outgoing:       make(map[identity.ValidatorId]worker.OutgoingHandle),
		incoming:       make(map[identity.ValidatorId]worker.IncomingHandle),
		dialCancel:     make(map[identity.ValidatorId]context.CancelFunc),
		outStats:       make(map[identity.ValidatorId]*counters),
		inStats:        make(map[identity.ValidatorId]*counters),
	}
}

// Attach wires the session registry and discovery component this
// manager routes inbound traffic to and starts the dispatch loop.
// Both are constructed with this Manager's SendSessionPayload /
// SendDiscoveryMessage methods as their Sender, which is why they are
// supplied after construction rather than as NewManager arguments.
func (m *Manager) Attach(registry *session.Registry, disc *discovery.Discovery) {
	m.registry = registry
	m.discovery = disc
	m.wg.Add(1)
	go m.dispatchInbound()
}

// SendSessionPayload implements session.Sender: it looks up peer's
// live outgoing worker and enqueues payload tagged with sessionId,
// reporting false if no such worker exists.
func (m *Manager) SendSessionPayload(peer identity.ValidatorId, sessionId identity.SessionId, payload []byte) bool {
	m.mu.RLock()
	handle, ok := m.outgoing[peer]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return handle.Sink.Send(wire.SessionData(sessionId, payload))
}

// SendDiscoveryMessage implements discovery.Sender: it looks up peer's
// live outgoing worker and enqueues msg, silently dropping it if no
// worker is live, matching the data-plane drop-when-absent behavior.
func (m *Manager) SendDiscoveryMessage(peer identity.ValidatorId, msg wire.DiscoveryMessage) {
	m.mu.RLock()
	handle, ok := m.outgoing[peer]
	m.mu.RUnlock()
	if !ok {
		return
	}
	handle.Sink.Send(wire.MetaData(msg))
}

// DialPeer starts (idempotently) a supervised outgoing dialer for
// peer, per spec §4.7.1. Dialing the local validator's own identity is
// a no-op: a validator never opens a connection to itself.
func (m *Manager) DialPeer(peer identity.ValidatorId) {
	if peer.Equals(m.selfID) {
		return
	}

	m.mu.Lock()
	if _, exists := m.dialCancel[peer]; exists {
		m.mu.Unlock()
		return
	}
	dctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel[peer] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runDialer(dctx, peer)
	}()
}

// StopDialingPeer cancels peer's outgoing dialer supervisor, if any.
// The supervisor's context is also the context of its live outgoing
// worker, so an established outgoing connection to peer is closed as
// well; the incoming direction is not affected.
func (m *Manager) StopDialingPeer(peer identity.ValidatorId) {
	m.mu.Lock()
	cancel, ok := m.dialCancel[peer]
	if ok {
		delete(m.dialCancel, peer)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// AcceptIncoming hands conn to a new incoming worker. It returns
// immediately; the handshake and newer-wins bookkeeping happen on a
// background goroutine so a slow or hostile peer cannot stall the
// caller's accept loop.
func (m *Manager) AcceptIncoming(conn net.Conn) {
	cnt := newCounters()
	stream := wire.NewConnStream(&countingConn{Conn: conn, c: cnt})
	parentSink := make(chan worker.IncomingHandle, 1)
	attemptLog := m.log.With("worker_id", uuid.NewString())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Closed unconditionally: a successful handshake hands ownership
		// of the split halves to RunIncoming's race scope, which already
		// closes them on exit (a harmless double-close here), while a
		// handshake failure otherwise leaves conn leaked forever.
		defer conn.Close()

		errCh := make(chan error, 1)
		go func() {
			errCh <- worker.RunIncoming(m.ctx, m.userSinkCtx, stream, m.selfID, m.selfKey, parentSink, m.inbound, m.cfg)
		}()

		var handle worker.IncomingHandle
		var registered bool
		select {
		case h := <-parentSink:
			handle, registered = h, true
			m.registerIncoming(handle)
			m.recordIncomingStats(handle.Peer, cnt)
		case <-m.ctx.Done():
		case err := <-errCh:
			if err != nil {
				attemptLog.Debugf("connmgr: incoming connection ended: %v", err)
			}
			return
		}

		if err := <-errCh; err != nil {
			attemptLog.Debugf("connmgr: incoming connection ended: %v", err)
		}
		if registered {
			m.markIncomingDead(handle.Peer)
			m.unregisterIncoming(handle)
		}
	}()
}

func (m *Manager) registerOutgoing(handle worker.OutgoingHandle) {
	m.mu.Lock()
	m.outgoing[handle.Peer] = handle
	m.mu.Unlock()

	cnt := m.outCounters(handle.Peer)
	cnt.setState(PeerConnected)
	cnt.markHandshake()
}

func (m *Manager) unregisterOutgoing(handle worker.OutgoingHandle) {
	m.mu.Lock()
	if current, ok := m.outgoing[handle.Peer]; ok && current.Sink == handle.Sink {
		delete(m.outgoing, handle.Peer)
	}
	m.mu.Unlock()

	m.outCounters(handle.Peer).setState(PeerDead)
}

// registerIncoming installs handle as the live incoming worker for its
// peer, firing the exit signal of whatever connection it supersedes
// (spec §4.7.2, "newer connection from the same peer wins").
func (m *Manager) registerIncoming(handle worker.IncomingHandle) {
	m.mu.Lock()
	old, exists := m.incoming[handle.Peer]
	m.incoming[handle.Peer] = handle
	m.mu.Unlock()
	if exists {
		old.Exit.Fire()
	}
}

// unregisterIncoming removes handle from the live-incoming map, but
// only if it is still the current entry for its peer — a dying worker
// that a newer incoming connection has already superseded must not
// evict that newer connection's handle (mirrors unregisterOutgoing's
// same Sink/Exit-identity guard).
func (m *Manager) unregisterIncoming(handle worker.IncomingHandle) {
	m.mu.Lock()
	if current, ok := m.incoming[handle.Peer]; ok && current.Exit == handle.Exit {
		delete(m.incoming, handle.Peer)
	}
	m.mu.Unlock()
}

// LiveOutgoingPeers returns every peer with a currently live outgoing
// worker.
func (m *Manager) LiveOutgoingPeers() []identity.ValidatorId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]identity.ValidatorId, 0, len(m.outgoing))
	for p := range m.outgoing {
		peers = append(peers, p)
	}
	return peers
}

// LiveIncomingPeers returns every peer with a currently live incoming
// worker.
func (m *Manager) LiveIncomingPeers() []identity.ValidatorId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]identity.ValidatorId, 0, len(m.incoming))
	for p := range m.incoming {
		peers = append(peers, p)
	}
	return peers
}

// HandleSessionStopped is called after session.Registry.Stop returns
// the peer set of a just-stopped session (spec §4.8(b): "closes all
// per-peer exit one-shots associated with that session"). A peer is
// only actually torn down if no other currently live session still
// needs it — membership in any remaining session's participant set is
// enough to keep its connections alive.
func (m *Manager) HandleSessionStopped(peers []identity.ValidatorId) {
	for _, peer := range peers {
		if m.peerStillNeeded(peer) {
			continue
		}
		m.StopDialingPeer(peer)

		m.mu.Lock()
		handle, ok := m.incoming[peer]
		if ok {
			delete(m.incoming, peer)
		}
		m.mu.Unlock()
		if ok {
			handle.Exit.Fire()
			m.markIncomingDead(peer)
		}
	}
}

func (m *Manager) peerStillNeeded(peer identity.ValidatorId) bool {
	if m.registry == nil {
		return false
	}
	for _, sid := range m.registry.Live() {
		handler, ok := m.registry.Handler(sid)
		if !ok {
			continue
		}
		if _, ok := handler.NodeIndexOf(peer); ok {
			return true
		}
	}
	return false
}

// Stop cancels every dialer, incoming worker and the dispatch loop,
// and waits for them to exit. It is safe to call once.
func (m *Manager) Stop() {
	m.cancel()
	m.userSinkCancel()
	m.wg.Wait()
}

func (m *Manager) resolveAddresses(peer identity.ValidatorId) []identity.Multiaddress {
	if m.discovery == nil || m.registry == nil {
		return nil
	}
	// A peer may be a participant of more than one live session at
	// once in principle, but the connection layer dials it once
	// regardless of which session's discovery traffic last reported
	// its address — the first live session with a stored entry wins.
	for _, sid := range m.registry.Live() {
		if addrs, ok := m.discovery.CurrentAddresses(sid, peer); ok && len(addrs) > 0 {
			return addrs
		}
	}
	return nil
}

func (m *Manager) dispatchInbound() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.inbound:
			m.dispatchOne(msg)
		}
	}
}

func (m *Manager) dispatchOne(msg worker.InboundMessage) {
	switch msg.Message.Kind {
	case wire.KindMeta:
		if m.discovery == nil {
			return
		}
		sessionId := msg.Message.Meta.Auth.Data.SessionId
		if err := m.discovery.HandleInbound(sessionId, msg.Peer, msg.Message.Meta); err != nil {
			m.log.Debugf("connmgr: rejected discovery message from %s: %v", msg.Peer.Hex(), err)
		}
	case wire.KindData:
		if m.registry == nil {
			return
		}
		handler, ok := m.registry.Handler(msg.Message.SessionId)
		if !ok {
			return
		}
		idx, ok := handler.NodeIndexOf(msg.Peer)
		if !ok {
			return
		}
		m.registry.Deliver(msg.Message.SessionId, idx, msg.Message.Payload)
	}
}
