// Package discovery disseminates each validator's reachable addresses
// for a session and validates what peers disseminate in turn. It
// never touches a socket directly: it hands outbound
// messages to a Sender the connection manager supplies, and it learns
// about inbound ones the manager hands it after reading them off the
// wire.
package discovery

import (
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quorumlayer/valnet/config"
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/session"
	"github.com/quorumlayer/valnet/wire"
)

// Sender hands one discovery message to the connection manager for
// delivery to peer — the manager enqueues it on that peer's outgoing
// worker sink (wrapped as wire.MetaData) if one is live, and silently
// drops it otherwise, mirroring the data-plane send path.
type Sender func(peer identity.ValidatorId, msg wire.DiscoveryMessage)

// PeerUpdate is published on Updates once a fresh, valid
// Authentication has been accepted for a peer. The connection manager
// does not read Updates; its dialer resolves a peer's addresses
// through CurrentAddresses.
type PeerUpdate struct {
	SessionId identity.SessionId
	Peer      identity.ValidatorId
	Addresses []identity.Multiaddress
}

type acceptedKey struct {
	sessionId identity.SessionId
	nodeIndex identity.NodeIndex
}

type acceptedEntry struct {
	addresses []identity.Multiaddress
}

// Discovery tracks, per session, the address set of the most recently
// accepted Authentication for every other participant, and drives
// rebroadcast.
type Discovery struct {
	registry *session.Registry
	send     Sender
	fanout   func(n int) int

	rateLimit float64
	rateBurst int

	mu        sync.Mutex
	accepted  map[acceptedKey]acceptedEntry
	limiters  map[identity.ValidatorId]*rate.Limiter
	updatesCh chan PeerUpdate
}

// New constructs a Discovery driven by cfg's rebroadcast-fanout and
// per-peer rate-limit parameters. registry resolves a session's
// Handler for verification; send delivers outbound discovery traffic.
func New(registry *session.Registry, send Sender, cfg config.Config) *Discovery {
	return &Discovery{
		registry:  registry,
		send:      send,
		fanout:    cfg.RebroadcastFanoutFor,
		rateLimit: cfg.DiscoveryRateLimit,
		rateBurst: cfg.DiscoveryRateBurst,
		accepted:  make(map[acceptedKey]acceptedEntry),
		limiters:  make(map[identity.ValidatorId]*rate.Limiter),
		updatesCh: make(chan PeerUpdate, 256),
	}
}

// Updates returns the channel PeerUpdates are published on.
func (d *Discovery) Updates() <-chan PeerUpdate { return d.updatesCh }

// BroadcastOwn signs the session handler's current address set and
// sends it to a random k of the session's other participants, used
// both on session start and whenever the local address set changes.
func (d *Discovery) BroadcastOwn(sessionId identity.SessionId) error {
	handler, ok := d.registry.Handler(sessionId)
	if !ok {
		return fmt.Errorf("discovery: session %d not live", sessionId)
	}
	auth := handler.OwnAuthentication()
	d.rebroadcast(handler, wire.DiscoveryMessage{Auth: auth}, handler.SelfIndex())
	return nil
}

// HandleInbound processes one DiscoveryMessage received from from.
// It verifies the embedded Authentication against sessionId's handler,
// applies a per-peer rate limit, and — if the message is both valid
// and fresh — stores it, publishes a PeerUpdate, and rebroadcasts it
// to a random k of the session's other participants, excluding the
// author.
func (d *Discovery) HandleInbound(sessionId identity.SessionId, from identity.ValidatorId, msg wire.DiscoveryMessage) error {
	handler, ok := d.registry.Handler(sessionId)
	if !ok {
		// Unknown session: dropped without error rather than treated as a
		// protocol fault, since the session may simply not have started yet.
		return nil
	}

	if !d.allow(from) {
		return nil
	}

	if err := handler.VerifyAuthentication(msg.Auth); err != nil {
		return err
	}

	key := acceptedKey{sessionId: sessionId, nodeIndex: msg.Auth.Data.NodeIndex}

	d.mu.Lock()
	existing, known := d.accepted[key]
	fresh := !known || !identity.AddressesEqual(existing.addresses, msg.Auth.Data.Addresses)
	if fresh {
		d.accepted[key] = acceptedEntry{addresses: msg.Auth.Data.Addresses}
	}
	d.mu.Unlock()

	if !fresh {
		return nil
	}

	d.updatesCh <- PeerUpdate{SessionId: sessionId, Peer: msg.Auth.Author, Addresses: msg.Auth.Data.Addresses}
	d.rebroadcast(handler, msg, msg.Auth.Data.NodeIndex, from)
	return nil
}

// CurrentAddresses returns the most recently accepted address set for
// peer within sessionId, if any has been accepted yet.
func (d *Discovery) CurrentAddresses(sessionId identity.SessionId, peer identity.ValidatorId) ([]identity.Multiaddress, bool) {
	handler, ok := d.registry.Handler(sessionId)
	if !ok {
		return nil, false
	}
	idx, ok := handler.NodeIndexOf(peer)
	if !ok {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.accepted[acceptedKey{sessionId: sessionId, nodeIndex: idx}]
	if !ok {
		return nil, false
	}
	return append([]identity.Multiaddress(nil), entry.addresses...), true
}

// rebroadcast sends msg to min(fanout(n), number of eligible
// candidates) participants of handler's session chosen uniformly at
// random, excluding the local
// validator, the author (excludeIndex), and any identity in
// excludeSender (the peer the message arrived from, which may differ
// from the author in a future relay topology even though the current
// wire format always has them match).
func (d *Discovery) rebroadcast(handler *session.Handler, msg wire.DiscoveryMessage, excludeIndex identity.NodeIndex, excludeSender ...identity.ValidatorId) {
	n := handler.ParticipantCount()
	candidates := make([]identity.ValidatorId, 0, n)
	for i := 0; i < n; i++ {
		idx := identity.NodeIndex(i)
		if idx == handler.SelfIndex() || idx == excludeIndex {
			continue
		}
		vid, ok := handler.ValidatorAt(idx)
		if !ok {
			continue
		}
		excluded := false
		for _, s := range excludeSender {
			if vid.Equals(s) {
				excluded = true
				break
			}
		}
		if !excluded {
			candidates = append(candidates, vid)
		}
	}

	k := d.fanout(n)
	if k > len(candidates) {
		k = len(candidates)
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	for _, peer := range candidates[:k] {
		d.send(peer, msg)
	}
}

func (d *Discovery) allow(peer identity.ValidatorId) bool {
	if d.rateLimit <= 0 {
		return true
	}
	d.mu.Lock()
	lim, ok := d.limiters[peer]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.rateLimit), d.rateBurst)
		d.limiters[peer] = lim
	}
	d.mu.Unlock()
	return lim.Allow()
}
