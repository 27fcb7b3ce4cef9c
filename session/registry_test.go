package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/session"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []struct {
		peer    identity.ValidatorId
		session identity.SessionId
		payload []byte
	}
}

func (s *recordingSender) send(peer identity.ValidatorId, sid identity.SessionId, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, struct {
		peer    identity.ValidatorId
		session identity.SessionId
		payload []byte
	}{peer, sid, payload})
	return true
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestRegistryStartDeliverStop(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(7, 0, keys[0], participants)
	require.NoError(t, err)

	sender := &recordingSender{}
	reg := session.NewRegistry(sender.send)

	sess, err := reg.Start(h)
	require.NoError(t, err)
	require.Equal(t, identity.SessionId(7), sess.ID)

	ok := reg.Deliver(7, 1, []byte{4, 3, 43})
	require.True(t, ok)

	select {
	case msg := <-sess.Inbound:
		require.Equal(t, identity.NodeIndex(1), msg.From)
		require.Equal(t, []byte{4, 3, 43}, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound delivery")
	}

	sess.Outbound <- session.OutboundPayload{To: 2, Payload: []byte{9, 9}}
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)

	peers, err := reg.Stop(7)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	ok = reg.Deliver(7, 1, []byte{1})
	require.False(t, ok)
}

func TestRegistryDeliverToUnknownSessionDropsSilently(t *testing.T) {
	reg := session.NewRegistry(func(identity.ValidatorId, identity.SessionId, []byte) bool { return true })
	ok := reg.Deliver(999, 0, []byte{1})
	require.False(t, ok)
}

func TestRegistryStartTwiceErrors(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(1, 0, keys[0], participants)
	require.NoError(t, err)

	reg := session.NewRegistry(func(identity.ValidatorId, identity.SessionId, []byte) bool { return true })
	_, err = reg.Start(h)
	require.NoError(t, err)

	_, err = reg.Start(h)
	require.Error(t, err)
}

func TestRegistryStopUnknownSessionErrors(t *testing.T) {
	reg := session.NewRegistry(func(identity.ValidatorId, identity.SessionId, []byte) bool { return true })
	_, err := reg.Stop(123)
	require.Error(t, err)
}
