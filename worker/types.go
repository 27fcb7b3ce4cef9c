// Package worker runs the per-connection protocol state machine (spec
// §4.4): once a handshake has produced a verified peer identity, an
// outgoing worker pumps queued data out while watching for silence
// from the peer, and an incoming worker pumps received data upward
// while emitting its own heartbeats, until one of a small set of exit
// conditions fires.
package worker

import (
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

// OutgoingHandle is handed to the connection manager once an outgoing
// worker's handshake has completed. The manager retains Sink to queue
// session data and discovery messages for transmission to Peer.
type OutgoingHandle struct {
	Peer identity.ValidatorId
	Sink *DataSink
}

// IncomingHandle is handed to the connection manager once an incoming
// worker's handshake has completed. The manager retains Exit to
// request the worker stop, e.g. when a newer connection from the same
// peer supersedes it.
type IncomingHandle struct {
	Peer identity.ValidatorId
	Exit *ExitSignal
}

// NewExitSignal constructs an ExitSignal for use by tests or by
// callers assembling an IncomingHandle outside of RunIncoming.
func NewExitSignal() *ExitSignal { return newExitSignal() }

// InboundMessage is what an incoming worker delivers upward for every
// non-heartbeat frame it receives from Peer.
type InboundMessage struct {
	Peer    identity.ValidatorId
	Message wire.NetworkData
}

func closeBoth(read wire.ReadHalf, write wire.WriteHalf) func() {
	return func() {
		read.CloseRead()
		write.CloseWrite()
	}
}
