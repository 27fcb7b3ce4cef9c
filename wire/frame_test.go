package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

func TestSendReceiveDataRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	nd := wire.SessionData(identity.SessionId(1), []byte("hello"))
	_, err := wire.SendData(&buf, nd)
	require.NoError(t, err)

	_, frame, err := wire.ReceiveData(&buf)
	require.NoError(t, err)
	require.False(t, frame.IsHeartbeat)
	require.Equal(t, nd, frame.Message)
}

func TestSendReceiveHeartbeat(t *testing.T) {
	var buf bytes.Buffer

	_, err := wire.SendHeartbeat(&buf)
	require.NoError(t, err)

	_, frame, err := wire.ReceiveData(&buf)
	require.NoError(t, err)
	require.True(t, frame.IsHeartbeat)
}

func TestSendDataRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	nd := wire.SessionData(identity.SessionId(1), make([]byte, wire.MaxFrameSize+1))
	_, err := wire.SendData(&buf, nd)
	require.Error(t, err)
	require.IsType(t, &wire.SendError{}, err)
}

func TestReceiveDataAcceptsMaxSizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// Leave headroom for the tag+session-id+length overhead so the
	// total payload is exactly MaxFrameSize.
	nd := wire.SessionData(identity.SessionId(1), make([]byte, wire.MaxFrameSize-9))
	_, err := wire.SendData(&buf, nd)
	require.NoError(t, err)

	_, frame, err := wire.ReceiveData(&buf)
	require.NoError(t, err)
	require.False(t, frame.IsHeartbeat)
}

func TestReceiveDataUnexpectedEOF(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0})
	_, _, err := wire.ReceiveData(r)
	var recvErr *wire.ReceiveError
	require.ErrorAs(t, err, &recvErr)
	require.Equal(t, wire.ReceiveErrUnexpectedEOF, recvErr.Kind)
}

func TestReceiveDataEmptyStreamIsEOF(t *testing.T) {
	r := bytes.NewReader(nil)
	_, _, err := wire.ReceiveData(r)
	var recvErr *wire.ReceiveError
	require.ErrorAs(t, err, &recvErr)
	require.ErrorIs(t, recvErr.Err, io.EOF)
}
