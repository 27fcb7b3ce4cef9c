// Package heartbeat implements the two paired liveness tasks every
// protocol worker runs: a sender that emits an empty sentinel frame
// on an interval, and a receiver that resets a dead-man's timer on
// every inbound frame (heartbeat or data) and reports cardiac arrest
// once the timer fires (spec §4.3).
package heartbeat

import (
	"context"
	"time"

	"github.com/quorumlayer/valnet/wire"
)

// DefaultInterval is how often the sender emits a heartbeat.
const DefaultInterval = 4 * time.Second

// DefaultDeadline is how long the receiver tolerates silence before
// declaring cardiac arrest.
const DefaultDeadline = 10 * time.Second

// CardiacArrestError signals that a peer has stopped emitting any
// frame — heartbeat or data — within the configured deadline, or that
// the connection otherwise failed while the receiver or sender was
// watching it. The protocol worker treats this identically to a dead
// peer regardless of the underlying cause.
type CardiacArrestError struct {
	Err error
}

func (e *CardiacArrestError) Error() string {
	if e.Err != nil {
		return "heartbeat: cardiac arrest: " + e.Err.Error()
	}
	return "heartbeat: cardiac arrest"
}

func (e *CardiacArrestError) Unwrap() error { return e.Err }

type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Receiver blocks reading frames from read, resetting its dead-man's
// timer on each one (data frames are discarded here — forwarding them
// is the data pump's job on the side that has a user sink). It
// returns a *CardiacArrestError once `deadline` elapses with no frame
// observed, or once the underlying read fails for any other reason.
// ctx cancellation causes a clean (nil-error) return.
func Receiver(ctx context.Context, read wire.ReadHalf, deadline time.Duration) error {
	setter, hasDeadline := read.(deadlineSetter)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if hasDeadline {
			if err := setter.SetReadDeadline(time.Now().Add(deadline)); err != nil {
				return &CardiacArrestError{Err: err}
			}
		}

		_, _, err := wire.ReceiveData(read)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &CardiacArrestError{Err: err}
		}
		// Any frame — heartbeat or data — counts as a liveness signal;
		// looping re-arms the deadline for the next read.
	}
}

// Sender emits an empty heartbeat frame on write every interval until
// ctx is cancelled (clean return) or a write fails (returned wrapped
// in a *CardiacArrestError).
func Sender(ctx context.Context, write wire.WriteHalf, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := wire.SendHeartbeat(write); err != nil {
				return &CardiacArrestError{Err: err}
			}
		}
	}
}
