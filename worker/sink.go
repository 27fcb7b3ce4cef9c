package worker

import (
	"sync"

	"github.com/quorumlayer/valnet/wire"
)

// DataSink is the unbounded outbound queue a protocol worker's data
// pump drains. It is "unbounded" in the sense the spec's design notes
// require — the peer connection must never apply backpressure onto
// the session/discovery layers above it — modeled the way the BDLS
// consensus TCP peer queues outbound messages: a mutex-guarded slice
// plus a non-blocking notify channel, rather than a fixed-size Go
// channel that would impose an arbitrary bound.
type DataSink struct {
	mu     sync.Mutex
	queue  []wire.NetworkData
	notify chan struct{}
	closed bool
}

func newDataSink() *DataSink {
	return &DataSink{notify: make(chan struct{}, 1)}
}

// Send enqueues nd for transmission. It reports false if the sink has
// already been closed, in which case nd was dropped.
func (s *DataSink) Send(nd wire.NetworkData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, nd)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Close marks the sink closed. The worker's pump drains whatever is
// still queued and then exits cleanly — this is the Go equivalent of
// the parent dropping its end of an mpsc channel.
func (s *DataSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

func (s *DataSink) drain() (items []wire.NetworkData, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, s.queue = s.queue, nil
	return items, s.closed
}
