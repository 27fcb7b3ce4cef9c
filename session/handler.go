// Package session binds cryptographic identity to network identity
// for one bounded consensus epoch and maintains the set of such
// epochs live at any moment, demultiplexing inbound traffic to each
// one's consumer.
package session

import (
	"fmt"
	"sync"

	"github.com/quorumlayer/valnet/identity"
)

// Error discriminates why an Authentication failed to verify against
// a Handler.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "session: " + e.Reason }

// Handler stores the NodeIndex↔ValidatorId mapping for one session's
// fixed participant set, plus the local validator's signing key and
// its own currently-advertised addresses. It is immutable after
// construction except for the address list, which changes only by
// wholesale replacement (a fresh Authentication supersedes the
// previous one).
type Handler struct {
	sessionId  identity.SessionId
	selfIndex  identity.NodeIndex
	selfKey    identity.SigningKey
	byIndex    map[identity.NodeIndex]identity.ValidatorId
	byIdentity map[identity.ValidatorId]identity.NodeIndex

	mu        sync.RWMutex
	addresses []identity.Multiaddress
}

// NewHandler constructs a Handler for sessionId over participants
// (node index → validator identity). self must be selfIndex's entry
// in participants.
func NewHandler(
	sessionId identity.SessionId,
	selfIndex identity.NodeIndex,
	selfKey identity.SigningKey,
	participants map[identity.NodeIndex]identity.ValidatorId,
) (*Handler, error) {
	self, ok := participants[selfIndex]
	if !ok {
		return nil, fmt.Errorf("session: selfIndex %d not present in participants", selfIndex)
	}
	if !self.Equals(selfKey.Public()) {
		return nil, fmt.Errorf("session: selfIndex %d maps to a different identity than selfKey", selfIndex)
	}

	byIndex := make(map[identity.NodeIndex]identity.ValidatorId, len(participants))
	byIdentity := make(map[identity.ValidatorId]identity.NodeIndex, len(participants))
	for idx, vid := range participants {
		byIndex[idx] = vid
		byIdentity[vid] = idx
	}

	return &Handler{
		sessionId:  sessionId,
		selfIndex:  selfIndex,
		selfKey:    selfKey,
		byIndex:    byIndex,
		byIdentity: byIdentity,
	}, nil
}

// SessionId returns the session this handler governs.
func (h *Handler) SessionId() identity.SessionId { return h.sessionId }

// SelfIndex returns the local validator's NodeIndex within this
// session.
func (h *Handler) SelfIndex() identity.NodeIndex { return h.selfIndex }

// ParticipantCount returns n, the fixed size of the session's
// validator set.
func (h *Handler) ParticipantCount() int { return len(h.byIndex) }

// ValidatorAt resolves a NodeIndex to its ValidatorId within this
// session.
func (h *Handler) ValidatorAt(idx identity.NodeIndex) (identity.ValidatorId, bool) {
	v, ok := h.byIndex[idx]
	return v, ok
}

// NodeIndexOf resolves a ValidatorId to its NodeIndex within this
// session.
func (h *Handler) NodeIndexOf(v identity.ValidatorId) (identity.NodeIndex, bool) {
	idx, ok := h.byIdentity[v]
	return idx, ok
}

// VerifyAuthentication checks auth against this session's participant
// set: the session id matches, the claimed node_id resolves to a
// known ValidatorId, and the signature verifies under that identity.
func (h *Handler) VerifyAuthentication(auth identity.Authentication) error {
	if auth.Data.SessionId != h.sessionId {
		return &Error{Reason: fmt.Sprintf("session id mismatch: got %d, want %d", auth.Data.SessionId, h.sessionId)}
	}
	expected, ok := h.byIndex[auth.Data.NodeIndex]
	if !ok {
		return &Error{Reason: fmt.Sprintf("unknown node index %d", auth.Data.NodeIndex)}
	}
	if !expected.Equals(auth.Author) {
		return &Error{Reason: "claimed author does not match node index's registered identity"}
	}
	if !auth.VerifySignature() {
		return &Error{Reason: "bad signature"}
	}
	return nil
}

// OwnAuthentication produces a fresh, signed Authentication for the
// local validator's current address set.
func (h *Handler) OwnAuthentication() identity.Authentication {
	h.mu.RLock()
	addrs := append([]identity.Multiaddress(nil), h.addresses...)
	h.mu.RUnlock()

	return identity.Sign(h.selfKey, identity.AuthData{
		Addresses: addrs,
		NodeIndex: h.selfIndex,
		SessionId: h.sessionId,
	})
}

// UpdateAddresses replaces the local validator's advertised address
// set and returns the newly signed Authentication that supersedes any
// previously produced one.
func (h *Handler) UpdateAddresses(addrs []identity.Multiaddress) identity.Authentication {
	h.mu.Lock()
	h.addresses = append([]identity.Multiaddress(nil), addrs...)
	h.mu.Unlock()
	return h.OwnAuthentication()
}
