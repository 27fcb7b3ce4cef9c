package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// race runs every fn concurrently and, the moment the first one
// returns (successfully or not), cancels the shared context so every
// other sibling unwinds promptly — the structured-concurrency scope
// the protocol worker is built from: first task to finish cancels its
// siblings. golang.org/x/sync/errgroup alone only cancels its derived
// context on a non-nil error or on Wait returning; we layer an
// explicit cancel-on-first-completion on top so a clean (nil-error)
// finish also tears down its siblings immediately.
//
// onFirstDone, if non-nil, runs once synchronously with the first
// completion — workers use it to close the underlying stream halves
// so any sibling blocked in a read or write unblocks immediately
// rather than waiting for its own timeout to elapse.
//
// race returns the first non-nil error reported by any fn, or nil if
// every fn returned nil.
func race(parentCtx context.Context, onFirstDone func(), fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var once sync.Once
	trigger := func() {
		once.Do(func() {
			cancel()
			if onFirstDone != nil {
				onFirstDone()
			}
		})
	}

	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			err := fn(gctx)
			trigger()
			return err
		})
	}

	return g.Wait()
}
