package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/session"
)

func threeParticipants(t *testing.T) (map[identity.NodeIndex]identity.ValidatorId, map[identity.NodeIndex]identity.SigningKey) {
	t.Helper()
	participants := make(map[identity.NodeIndex]identity.ValidatorId, 3)
	keys := make(map[identity.NodeIndex]identity.SigningKey, 3)
	for i := 0; i < 3; i++ {
		key, vid, err := identity.GenerateSigningKey()
		require.NoError(t, err)
		participants[identity.NodeIndex(i)] = vid
		keys[identity.NodeIndex(i)] = key
	}
	return participants, keys
}

func TestHandlerOwnAuthenticationVerifiesAgainstItself(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(42, 1, keys[1], participants)
	require.NoError(t, err)

	auth := h.UpdateAddresses([]identity.Multiaddress{{Host: "10.0.0.1", Port: 9000, Transport: identity.TransportTCP}})
	require.NoError(t, h.VerifyAuthentication(auth))
}

func TestHandlerRejectsWrongSession(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(42, 0, keys[0], participants)
	require.NoError(t, err)

	other, err := session.NewHandler(43, 0, keys[0], participants)
	require.NoError(t, err)

	auth := other.OwnAuthentication()
	err = h.VerifyAuthentication(auth)
	require.Error(t, err)
}

func TestHandlerRejectsUnknownNodeIndex(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(1, 0, keys[0], participants)
	require.NoError(t, err)

	forged := identity.Sign(keys[0], identity.AuthData{NodeIndex: 99, SessionId: 1})
	require.Error(t, h.VerifyAuthentication(forged))
}

func TestHandlerRejectsImpersonation(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(1, 0, keys[0], participants)
	require.NoError(t, err)

	// node 2 signs a claim asserting node index 0's identity.
	forged := identity.Sign(keys[2], identity.AuthData{NodeIndex: 0, SessionId: 1})
	err = h.VerifyAuthentication(forged)
	require.Error(t, err)
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(1, 0, keys[0], participants)
	require.NoError(t, err)

	auth := h.OwnAuthentication()
	auth.Signature[0] ^= 0xFF
	require.Error(t, h.VerifyAuthentication(auth))
}

func TestHandlerConstructionRejectsMismatchedSelf(t *testing.T) {
	participants, keys := threeParticipants(t)
	_, err := session.NewHandler(1, 0, keys[1], participants)
	require.Error(t, err)
}

func TestNodeIndexAndValidatorRoundTrip(t *testing.T) {
	participants, keys := threeParticipants(t)
	h, err := session.NewHandler(1, 0, keys[0], participants)
	require.NoError(t, err)

	for idx, vid := range participants {
		got, ok := h.NodeIndexOf(vid)
		require.True(t, ok)
		require.Equal(t, idx, got)

		gotVid, ok := h.ValidatorAt(idx)
		require.True(t, ok)
		require.True(t, gotVid.Equals(vid))
	}
}
