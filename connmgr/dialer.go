package connmgr

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/netlog"
	"github.com/quorumlayer/valnet/wire"
	"github.com/quorumlayer/valnet/worker"
)

// runDialer is the per-peer outgoing supervisor of spec §4.7.1: it
// resolves peer's current addresses from discovery, dials them
// round-robin with exponential backoff, launches an outgoing protocol
// worker on every successful dial, and restarts — resetting backoff on
// a clean worker exit, advancing it on a dirty one — until dctx is
// cancelled (StopDialingPeer or Manager.Stop).
func (m *Manager) runDialer(dctx context.Context, peer identity.ValidatorId) {
	log := m.log.With("peer", peer.String())
	bo := newBackoff(m.cfg)
	var nextAddr int

	for {
		addrs := m.resolveAddresses(peer)
		if len(addrs) == 0 {
			log.Debugf("%v", &noAddressesError{peer: peer})
			if !m.sleep(dctx, bo.Next()) {
				return
			}
			continue
		}
		if nextAddr >= len(addrs) {
			nextAddr = 0
		}
		addr := addrs[nextAddr]
		nextAddr++

		m.outCounters(peer).setState(PeerDialing)
		conn, err := m.dial(dctx, addr)
		if err != nil {
			log.Debugf("connmgr: dial %s failed: %v", addr, err)
			if !m.sleep(dctx, bo.Next()) {
				return
			}
			continue
		}

		// A fresh correlation id per dial attempt, not per peer: a log
		// line tagged with worker_id lets an operator tell two retries
		// against the same peer apart in a multiplexed log stream, the
		// same purpose google/uuid serves for SAGE-X and gosuda-portal's
		// request-scoped IDs in the retrieval pack.
		attemptLog := log.With("worker_id", uuid.NewString())
		clean := m.runOutgoingWorker(dctx, peer, conn, attemptLog)
		if dctx.Err() != nil {
			return
		}
		if clean {
			bo.Reset()
		} else if !m.sleep(dctx, bo.Next()) {
			return
		}
	}
}

// runOutgoingWorker blocks for the lifetime of one outgoing protocol
// worker attempt over conn: it registers the worker's sink with the
// manager once the handshake completes and unregisters it on exit. It
// reports true ("clean") when the worker exited because its sink was
// closed by the manager or the dialer was cancelled — conditions that
// should reset backoff rather than penalize the peer — and false for
// every handshake or transport failure, which advances backoff.
func (m *Manager) runOutgoingWorker(dctx context.Context, peer identity.ValidatorId, conn net.Conn, log netlog.Logger) bool {
	// Closed unconditionally on return: a successful handshake hands
	// ownership of the two split halves to worker.RunOutgoing's race
	// scope, which already closes them on exit, so this is a no-op
	// double-close in that case; on a handshake failure it is the only
	// thing that closes the dialed socket at all.
	defer conn.Close()

	cnt := m.outCounters(peer)
	stream := wire.NewConnStream(&countingConn{Conn: conn, c: cnt})
	parentSink := make(chan worker.OutgoingHandle, 1)

	// done is attempt-scoped, not dctx-scoped: a handshake failure makes
	// RunOutgoing return without ever sending on parentSink, and dctx
	// lives for the whole per-peer dialer, so without this the
	// registration goroutine below would leak until the dialer itself
	// is torn down — one leaked goroutine per failed handshake retry.
	done := make(chan struct{})
	defer close(done)

	registered := make(chan worker.OutgoingHandle, 1)
	go func() {
		select {
		case handle := <-parentSink:
			m.registerOutgoing(handle)
			registered <- handle
		case <-dctx.Done():
		case <-done:
		}
	}()

	err := worker.RunOutgoing(dctx, stream, m.selfID, m.selfKey, peer, parentSink, m.cfg)

	select {
	case handle := <-registered:
		m.unregisterOutgoing(handle)
	default:
	}

	if err != nil {
		log.Debugf("connmgr: outgoing connection to %s ended: %v", peer.String(), err)
	}

	return dctx.Err() != nil || err == nil
}

// sleep waits for d or until ctx is cancelled, reporting false in the
// latter case so the caller can return immediately instead of looping
// once more.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
