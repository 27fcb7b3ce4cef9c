package handshake_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/handshake"
	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

func pipeStreams() (wire.Stream, wire.Stream) {
	a, b := net.Pipe()
	return wire.NewConnStream(a), wire.NewConnStream(b)
}

func TestHandshakeHappyPath(t *testing.T) {
	aKey, aID, err := identity.GenerateSigningKey()
	require.NoError(t, err)
	bKey, bID, err := identity.GenerateSigningKey()
	require.NoError(t, err)

	aStream, bStream := pipeStreams()

	var outResult, inResult handshake.Result
	var outErr, inErr error
	done := make(chan struct{})

	go func() {
		inResult, inErr = handshake.Incoming(bStream, bID, bKey, time.Second)
		close(done)
	}()

	outResult, outErr = handshake.Outgoing(aStream, aID, aKey, bID, time.Second)
	<-done

	require.NoError(t, outErr)
	require.NoError(t, inErr)
	require.True(t, outResult.Peer.Equals(bID))
	require.True(t, inResult.Peer.Equals(aID))
}

func TestHandshakeIdentityMismatch(t *testing.T) {
	aKey, aID, err := identity.GenerateSigningKey()
	require.NoError(t, err)
	bKey, bID, err := identity.GenerateSigningKey()
	require.NoError(t, err)
	_, wrongID, err := identity.GenerateSigningKey()
	require.NoError(t, err)

	aStream, bStream := pipeStreams()

	done := make(chan struct{})
	go func() {
		handshake.Incoming(bStream, bID, bKey, time.Second)
		close(done)
	}()

	_, err = handshake.Outgoing(aStream, aID, aKey, wrongID, time.Second)
	<-done

	var hsErr *handshake.Error
	require.ErrorAs(t, err, &hsErr)
	require.Equal(t, handshake.ErrIdentityMismatch, hsErr.Kind)
}

func TestHandshakeSelfConnectionRejected(t *testing.T) {
	key, id, err := identity.GenerateSigningKey()
	require.NoError(t, err)

	aStream, bStream := pipeStreams()

	done := make(chan struct{})
	var inErr error
	go func() {
		_, inErr = handshake.Incoming(bStream, id, key, time.Second)
		close(done)
	}()

	handshake.Outgoing(aStream, id, key, id, time.Second)
	<-done

	var hsErr *handshake.Error
	require.ErrorAs(t, inErr, &hsErr)
	require.Equal(t, handshake.ErrSelfConnection, hsErr.Kind)
}

func TestHandshakeTimeout(t *testing.T) {
	_, bID, err := identity.GenerateSigningKey()
	require.NoError(t, err)
	bKey, _, err := identity.GenerateSigningKey()
	require.NoError(t, err)

	_, bStream := pipeStreams()
	// No outgoing peer ever dials: Incoming should time out waiting
	// for the first frame.
	_, err = handshake.Incoming(bStream, bID, bKey, 20*time.Millisecond)

	var hsErr *handshake.Error
	require.ErrorAs(t, err, &hsErr)
	require.Equal(t, handshake.ErrTimeout, hsErr.Kind)
}
