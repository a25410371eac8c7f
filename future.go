package streamchannel

import "sync"

// future is the "done" completion slot used by every Sink implementation
// in this package: it resolves exactly once, with nil for a clean close or
// a non-nil error, and every later caller of Done observes the same value.
//
// This mirrors the closedMutex-guarded one-shot resolution strest.Stream
// uses around its commands channel, reduced to the single value a Sink's
// done future needs.
type future struct {
	once sync.Once
	ch   chan error
}

func newFuture() *future {
	return &future{ch: make(chan error, 1)}
}

// resolve fulfills the future. Only the first call has any effect.
func (f *future) resolve(err error) {
	f.once.Do(func() {
		f.ch <- err
		close(f.ch)
	})
}

// Done returns the channel that yields the single resolution value, then
// stays closed. Safe to call, and to receive from, any number of times and
// from any number of goroutines.
func (f *future) Done() <-chan error {
	return f.ch
}
