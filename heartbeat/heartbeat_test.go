package heartbeat_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/heartbeat"
	"github.com/quorumlayer/valnet/wire"
)

func TestSenderEmitsHeartbeatsUntilCancelled(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	readHalf, _ := wire.NewConnStream(b).Split()
	_, writeHalf := wire.NewConnStream(a).Split()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- heartbeat.Sender(ctx, writeHalf, 5*time.Millisecond) }()

	_, frame, err := wire.ReceiveData(readHalf)
	require.NoError(t, err)
	require.True(t, frame.IsHeartbeat)

	cancel()
	require.NoError(t, <-errCh)
}

func TestReceiverDetectsCardiacArrestOnSilence(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	readHalf, _ := wire.NewConnStream(b).Split()

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- heartbeat.Receiver(ctx, readHalf, 20*time.Millisecond) }()

	err := <-errCh
	var cardiacErr *heartbeat.CardiacArrestError
	require.ErrorAs(t, err, &cardiacErr)

	a.Close()
}

func TestReceiverResetsOnInboundFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	readHalf, _ := wire.NewConnStream(b).Split()
	_, writeHalf := wire.NewConnStream(a).Split()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- heartbeat.Receiver(ctx, readHalf, 30*time.Millisecond) }()

	for i := 0; i < 5; i++ {
		_, err := wire.SendHeartbeat(writeHalf)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-errCh:
		t.Fatalf("receiver exited early with %v", err)
	default:
	}

	cancel()
	require.NoError(t, <-errCh)
}
