package worker

import "sync"

// ExitSignal is a one-shot request channel the connection manager
// holds for a running incoming worker: Fire requests a graceful exit,
// and is idempotent so a "newer connection wins" replacement and a
// normal shutdown can race harmlessly.
type ExitSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newExitSignal() *ExitSignal {
	return &ExitSignal{ch: make(chan struct{})}
}

// Fire requests the worker holding this signal to exit. Safe to call
// more than once and from multiple goroutines.
func (e *ExitSignal) Fire() {
	e.once.Do(func() { close(e.ch) })
}

// Done returns a channel closed once Fire has been called.
func (e *ExitSignal) Done() <-chan struct{} {
	return e.ch
}
