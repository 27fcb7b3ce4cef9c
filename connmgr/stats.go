package connmgr

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/quorumlayer/valnet/identity"
)

// PeerState mirrors the per-ordered-pair connection states spec §3
// defines for the outgoing direction: Dialing (worker running, no
// handshake yet), Connected (handshake completed, sink live), Dead
// (worker exited, manager will respawn after backoff).
type PeerState int32

const (
	PeerDialing PeerState = iota
	PeerConnected
	PeerDead
)

func (s PeerState) String() string {
	switch s {
	case PeerDialing:
		return "dialing"
	case PeerConnected:
		return "connected"
	case PeerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// PeerStats is the connection-health snapshot exposed to the embedding
// consensus layer for one peer, the data-plane analogue of
// device.Peer.stats / device/stats.go's PeerStats: byte counters plus
// the time of the most recent handshake, generalized here from one
// physical connection per peer to the outgoing/incoming pair this
// module's ordered connection states require. Byte counts include
// handshake and heartbeat traffic, not only application payload,
// since they are tallied at the raw socket.
type PeerStats struct {
	State         PeerState
	IncomingLive  bool
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake time.Time
}

// ManagerStats is a Manager-wide connection-health snapshot keyed by
// peer, returned by Manager.Snapshot.
type ManagerStats map[identity.ValidatorId]PeerStats

// counters is the atomic per-connection byte/handshake-time tally a
// countingConn updates on every Read/Write, mirroring
// device/stats.go's atomic.Load/StoreUint64 pattern over peer.stats.
type counters struct {
	rxBytes           uint64
	txBytes           uint64
	lastHandshakeNano int64
	state             int32
}

func newCounters() *counters {
	c := &counters{}
	atomic.StoreInt32(&c.state, int32(PeerDialing))
	return c
}

func (c *counters) setState(s PeerState) { atomic.StoreInt32(&c.state, int32(s)) }

func (c *counters) markHandshake() {
	atomic.StoreInt64(&c.lastHandshakeNano, time.Now().UnixNano())
}

func (c *counters) snapshot() (rx, tx uint64, last time.Time, state PeerState) {
	rx = atomic.LoadUint64(&c.rxBytes)
	tx = atomic.LoadUint64(&c.txBytes)
	if nano := atomic.LoadInt64(&c.lastHandshakeNano); nano != 0 {
		last = time.Unix(0, nano)
	}
	state = PeerState(atomic.LoadInt32(&c.state))
	return
}

// countingConn wraps a net.Conn to tally bytes moved over it into c.
// Both the outgoing dialer and the incoming acceptor wrap their raw
// socket with one of these before handing it to wire.NewConnStream,
// so every handshake, heartbeat, and data frame is counted regardless
// of which package drives the read or write.
type countingConn struct {
	net.Conn
	c *counters
}

func (cc *countingConn) Read(p []byte) (int, error) {
	n, err := cc.Conn.Read(p)
	if n > 0 {
		atomic.AddUint64(&cc.c.rxBytes, uint64(n))
	}
	return n, err
}

func (cc *countingConn) Write(p []byte) (int, error) {
	n, err := cc.Conn.Write(p)
	if n > 0 {
		atomic.AddUint64(&cc.c.txBytes, uint64(n))
	}
	return n, err
}

// outCounters returns (creating if necessary) the outgoing-direction
// counters for peer.
func (m *Manager) outCounters(peer identity.ValidatorId) *counters {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	c, ok := m.outStats[peer]
	if !ok {
		c = newCounters()
		m.outStats[peer] = c
	}
	return c
}

// recordIncomingStats associates cnt, already carrying whatever bytes
// were counted during the handshake, as peer's incoming-direction
// counters once its identity is known.
func (m *Manager) recordIncomingStats(peer identity.ValidatorId, cnt *counters) {
	cnt.setState(PeerConnected)
	cnt.markHandshake()
	m.statsMu.Lock()
	m.inStats[peer] = cnt
	m.statsMu.Unlock()
}

func (m *Manager) markIncomingDead(peer identity.ValidatorId) {
	m.statsMu.Lock()
	cnt, ok := m.inStats[peer]
	m.statsMu.Unlock()
	if ok {
		cnt.setState(PeerDead)
	}
}

// Snapshot returns a point-in-time connection-health view across
// every peer this Manager has ever dialed or accepted a connection
// from, merging outgoing and incoming byte counts and reporting the
// more recent of the two directions' last-handshake times.
func (m *Manager) Snapshot() ManagerStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	out := make(ManagerStats, len(m.outStats)+len(m.inStats))
	for peer, cnt := range m.outStats {
		rx, tx, last, state := cnt.snapshot()
		out[peer] = PeerStats{State: state, RxBytes: rx, TxBytes: tx, LastHandshake: last}
	}
	for peer, cnt := range m.inStats {
		rx, tx, last, state := cnt.snapshot()
		ps, hadOutgoing := out[peer]
		ps.RxBytes += rx
		ps.TxBytes += tx
		if last.After(ps.LastHandshake) {
			ps.LastHandshake = last
		}
		ps.IncomingLive = state == PeerConnected
		if !hadOutgoing {
			ps.State = state
		}
		out[peer] = ps
	}
	return out
}
