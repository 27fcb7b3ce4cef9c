package worker

import (
	"context"

	"github.com/quorumlayer/valnet/config"
	"github.com/quorumlayer/valnet/handshake"
	"github.com/quorumlayer/valnet/heartbeat"
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

// RunOutgoing drives one dialed connection end to end: it runs the
// dialer side of the handshake against expectedPeer, hands a fresh
// DataSink back to the manager over parentSink, then pumps queued
// frames out while watching the peer for heartbeats.
//
// It returns nil on a clean shutdown (the manager closed the handed-
// back sink), *handshake.Error if the handshake failed,
// *NoParentConnectionError if parentSink had no live receiver,
// *heartbeat.CardiacArrestError if the peer went silent, or
// *wire.SendError if a write failed.
func RunOutgoing(
	ctx context.Context,
	stream wire.Stream,
	self identity.ValidatorId,
	key identity.SigningKey,
	expectedPeer identity.ValidatorId,
	parentSink chan<- OutgoingHandle,
	cfg config.Config,
) error {
	result, err := handshake.Outgoing(stream, self, key, expectedPeer, cfg.HandshakeTimeout)
	if err != nil {
		return err
	}

	sink := newDataSink()
	select {
	case parentSink <- OutgoingHandle{Peer: result.Peer, Sink: sink}:
	case <-ctx.Done():
		return &NoParentConnectionError{}
	}

	return race(ctx, closeBoth(result.Read, result.Write),
		func(ctx context.Context) error { return pumpOutgoing(ctx, sink, result.Write) },
		func(ctx context.Context) error { return heartbeat.Receiver(ctx, result.Read, cfg.HeartbeatDeadline) },
	)
}

// pumpOutgoing drains sink and writes each queued frame to write until
// ctx is cancelled, a write fails, or the manager closes sink (the
// queue is drained to empty first, then pumpOutgoing returns nil).
func pumpOutgoing(ctx context.Context, sink *DataSink, write wire.WriteHalf) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, open := <-sink.notify:
			items, closed := sink.drain()
			for _, nd := range items {
				if _, err := wire.SendData(write, nd); err != nil {
					return err
				}
			}
			if !open || closed {
				return nil
			}
		}
	}
}
