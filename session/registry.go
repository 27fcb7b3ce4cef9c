package session

import (
	"fmt"
	"sync"

	"github.com/quorumlayer/valnet/identity"
)

// InboundPayload is one application payload delivered to a session's
// consumer, tagged with the sending participant's NodeIndex.
type InboundPayload struct {
	From    identity.NodeIndex
	Payload []byte
}

// OutboundPayload is one application payload a session's consumer
// wants delivered to another participant, addressed by NodeIndex.
type OutboundPayload struct {
	To      identity.NodeIndex
	Payload []byte
}

// Sender is how the registry's outbound pump hands a session payload
// to the connection manager for delivery — the manager looks up the
// live outgoing worker for peer and enqueues it there, reporting false
// if no such worker exists, in which case the message is dropped.
type Sender func(peer identity.ValidatorId, sessionId identity.SessionId, payload []byte) bool

const outboundBufferSize = 256
const inboundBufferSize = 256

type entry struct {
	handler  *Handler
	inbound  chan InboundPayload
	outbound chan OutboundPayload
	pumpDone chan struct{}
}

// Session is the bidirectional channel pair a started session exposes
// to its consensus consumer.
type Session struct {
	ID       identity.SessionId
	Handler  *Handler
	Inbound  <-chan InboundPayload
	Outbound chan<- OutboundPayload
}

// Registry maintains the set of live sessions and demultiplexes
// inbound traffic by SessionId. It is safe for concurrent use.
type Registry struct {
	sender Sender

	mu       sync.Mutex
	sessions map[identity.SessionId]*entry
}

// NewRegistry constructs an empty Registry. sender is invoked by every
// session's outbound pump to hand a payload to the connection manager.
func NewRegistry(sender Sender) *Registry {
	return &Registry{
		sender:   sender,
		sessions: make(map[identity.SessionId]*entry),
	}
}

// Start creates a session entry for handler's session, launches its
// outbound pump, and returns the channel pair its consensus consumer
// uses. It errors if the session is already live.
func (r *Registry) Start(handler *Handler) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionId := handler.SessionId()
	if _, exists := r.sessions[sessionId]; exists {
		return nil, fmt.Errorf("session: session %d already started", sessionId)
	}

	e := &entry{
		handler:  handler,
		inbound:  make(chan InboundPayload, inboundBufferSize),
		outbound: make(chan OutboundPayload, outboundBufferSize),
		pumpDone: make(chan struct{}),
	}
	r.sessions[sessionId] = e

	go r.pumpOutbound(e)

	return &Session{
		ID:       sessionId,
		Handler:  handler,
		Inbound:  e.inbound,
		Outbound: e.outbound,
	}, nil
}

func (r *Registry) pumpOutbound(e *entry) {
	defer close(e.pumpDone)
	for out := range e.outbound {
		peer, ok := e.handler.ValidatorAt(out.To)
		if !ok {
			continue
		}
		r.sender(peer, e.handler.SessionId(), out.Payload)
	}
}

// Stop tears a session down: closes both consensus-facing channels and
// removes the handler. It returns the peer ValidatorIds that were
// participants of the stopped session (excluding the local validator)
// so the caller — the connection manager — can decide whether any of
// their incoming workers are no longer needed by any other live
// session and should be asked to exit — the exit one-shots themselves
// belong to the connection manager, which alone tracks cross-session
// peer usage, so the registry only reports who was affected.
func (r *Registry) Stop(sessionId identity.SessionId) ([]identity.ValidatorId, error) {
	r.mu.Lock()
	e, ok := r.sessions[sessionId]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("session: session %d not live", sessionId)
	}
	delete(r.sessions, sessionId)
	r.mu.Unlock()

	close(e.inbound)
	close(e.outbound)
	<-e.pumpDone

	peers := make([]identity.ValidatorId, 0, e.handler.ParticipantCount()-1)
	for idx := 0; idx < e.handler.ParticipantCount(); idx++ {
		vid, ok := e.handler.ValidatorAt(identity.NodeIndex(idx))
		if ok && identity.NodeIndex(idx) != e.handler.SelfIndex() {
			peers = append(peers, vid)
		}
	}
	return peers, nil
}

// Deliver routes one inbound payload to sessionId's consumer, tagged
// with the sender's NodeIndex. It reports false and drops the payload
// silently if sessionId is not live, treating unknown-session traffic
// as transient rather than an error.
func (r *Registry) Deliver(sessionId identity.SessionId, from identity.NodeIndex, payload []byte) bool {
	r.mu.Lock()
	e, ok := r.sessions[sessionId]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case e.inbound <- InboundPayload{From: from, Payload: payload}:
		return true
	default:
		// A session consumer that cannot keep up with its buffered
		// inbound channel is its own problem to solve by draining
		// faster; dropping here avoids blocking the shared dispatch
		// path for every other session.
		return false
	}
}

// Handler returns the live Handler for sessionId, if any.
func (r *Registry) Handler(sessionId identity.SessionId) (*Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionId]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Live reports every currently-started SessionId.
func (r *Registry) Live() []identity.SessionId {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]identity.SessionId, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
