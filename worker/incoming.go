package worker

import (
	"context"

	"github.com/quorumlayer/valnet/config"
	"github.com/quorumlayer/valnet/handshake"
	"github.com/quorumlayer/valnet/heartbeat"
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

// RunIncoming drives one accepted connection end to end: it runs the
// acceptor side of the handshake, hands an ExitSignal back to the
// manager over parentSink, then pumps received frames into userSink
// while emitting heartbeats, until an exit condition fires.
//
// It returns nil on a clean shutdown (the manager fired the handed-
// back ExitSignal), *handshake.Error if the handshake failed,
// *NoParentConnectionError if parentSink had no live receiver,
// *NoUserConnectionError if userSink stopped accepting deliveries,
// *heartbeat.CardiacArrestError if the sender's heartbeat write
// failed, or *wire.ReceiveError if a read failed.
//
// userSinkCtx is distinct from ctx: the manager cancels it specifically
// to mean "I am no longer accepting inbound deliveries from anyone",
// which this worker reports as *NoUserConnectionError rather than
// folding it into the general shutdown ctx represents.
func RunIncoming(
	ctx context.Context,
	userSinkCtx context.Context,
	stream wire.Stream,
	selfID identity.ValidatorId,
	key identity.SigningKey,
	parentSink chan<- IncomingHandle,
	userSink chan<- InboundMessage,
	cfg config.Config,
) error {
	result, err := handshake.Incoming(stream, selfID, key, cfg.HandshakeTimeout)
	if err != nil {
		return err
	}

	exit := newExitSignal()
	select {
	case parentSink <- IncomingHandle{Peer: result.Peer, Exit: exit}:
	case <-ctx.Done():
		return &NoParentConnectionError{}
	}

	return race(ctx, closeBoth(result.Read, result.Write),
		func(ctx context.Context) error {
			return pumpIncoming(ctx, userSinkCtx, result.Peer, result.Read, userSink)
		},
		func(ctx context.Context) error { return heartbeat.Sender(ctx, result.Write, cfg.HeartbeatInterval) },
		func(ctx context.Context) error {
			select {
			case <-exit.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		},
	)
}

type readResult struct {
	frame wire.ReceivedFrame
	err   error
}

// pumpIncoming reads frames from read and delivers every non-heartbeat
// one to userSink, tagged with peer, until ctx is cancelled, a read
// fails, or userSinkCtx is cancelled (the manager no longer accepts
// deliveries).
func pumpIncoming(ctx, userSinkCtx context.Context, peer identity.ValidatorId, read wire.ReadHalf, userSink chan<- InboundMessage) error {
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			_, frame, err := wire.ReceiveData(read)
			resultCh <- readResult{frame, err}
		}()

		select {
		case <-ctx.Done():
			return nil
		case res := <-resultCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return res.err
			}
			if res.frame.IsHeartbeat {
				continue
			}
			select {
			case userSink <- InboundMessage{Peer: peer, Message: res.frame.Message}:
			case <-ctx.Done():
				return nil
			case <-userSinkCtx.Done():
				return &NoUserConnectionError{}
			}
		}
	}
}
