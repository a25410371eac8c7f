package streamchannel

import "github.com/google/uuid"

// Completer is a stand-in Channel (C5) usable before the real channel it
// proxies for is known. Callers can Subscribe and call every Sink method
// right away; everything is buffered until SetChannel or SetError is
// called exactly once, at which point the buffered calls are replayed in
// order onto the real channel (or, for SetError, turned into a single
// stream error and a closed sink).
type Completer[T any] struct {
	commands chan completerCmd[T]
	out      chan Item[T]
	done     *future

	subscribed bool
	settled    bool
	real       Channel[T]
	settleErr  error

	pending    []pendingMutator[T]
	pendingSub bool

	// debugID, when non-empty, identifies this completer in logs across
	// its possibly-long wait for SetChannel/SetError; it plays no part in
	// the channel contract itself.
	debugID string
}

type completerCmd[T any] interface{ isCompleterCmd() }

type setChannelCmd[T any] struct {
	c     Channel[T]
	reply chan error
}

type setErrorCmd struct {
	err   error
	reply chan error
}

type subscribeCmd[T any] struct {
	reply chan subscribeResult[T]
}

type subscribeResult[T any] struct {
	ch  <-chan Item[T]
	err error
}

type mutatorCmd[T any] struct {
	kind  mutatorKind
	v     T
	err   error
	src   Stream[T]
	reply chan error
}

type mutatorKind int

const (
	mutAdd mutatorKind = iota
	mutAddError
	mutAddStream
	mutClose
)

func (setChannelCmd[T]) isCompleterCmd() {}
func (setErrorCmd) isCompleterCmd()      {}
func (subscribeCmd[T]) isCompleterCmd()  {}
func (mutatorCmd[T]) isCompleterCmd()    {}

// pendingMutator records one buffered Sink call, to be replayed once the
// completer settles.
type pendingMutator[T any] struct {
	kind mutatorKind
	v    T
	err  error
	src  Stream[T]
}

// NewCompleter returns an unsettled Completer. Its Channel() method
// returns the Channel view callers should use immediately.
func NewCompleter[T any]() *Completer[T] {
	c := &Completer[T]{
		commands: make(chan completerCmd[T]),
		out:      make(chan Item[T]),
		done:     newFuture(),
	}
	go c.run()
	return c
}

// NewCompleterDebug is NewCompleter with a random debug identity attached
// (visible via DebugID), for logging which completer a given SetChannel/
// SetError call resolved when a program juggles many of them at once.
func NewCompleterDebug[T any]() *Completer[T] {
	c := NewCompleter[T]()
	c.debugID = uuid.NewString()
	return c
}

// DebugID returns this completer's debug identity, or "" if it was built
// with NewCompleter instead of NewCompleterDebug.
func (c *Completer[T]) DebugID() string { return c.debugID }

// forwardErrStream relays errStream's single terminal Item onto out, used
// whenever a completer settles (via a failed late Subscribe, or SetError)
// after a subscriber is already waiting on out.
func forwardErrStream[T any](out chan<- Item[T], err error) {
	ch, _ := errStream[T]{err: err}.Subscribe()
	for item := range ch {
		out <- item
	}
}

// startForwarding copies the settled source (the real channel's stream, or
// a single synthetic error for a SetError settle) onto out, then closes
// out so the terminal propagates to whatever is ranging over it. It runs
// exactly once per completer: either a settle handler calls it (subscriber
// already attached) or the subscribeCmd handler calls it (completer
// already settled) — never both, since each of "settle" and "subscribe"
// only ever happens once.
func (c *Completer[T]) startForwarding() {
	go func() {
		defer close(c.out)
		if c.real == nil {
			forwardErrStream(c.out, c.settleErr)
			return
		}
		ch, err := c.real.Stream().Subscribe()
		if err != nil {
			forwardErrStream(c.out, err)
			return
		}
		for item := range ch {
			c.out <- item
		}
	}()
}

// Channel returns the stand-in Channel. Its Stream and Sink may be used
// before the completer settles.
func (c *Completer[T]) Channel() Channel[T] {
	return New[T](completerStream[T]{c}, completerSink[T]{c})
}

// SetChannel settles the completer onto a concrete channel, replaying any
// buffered Sink calls and subscription onto it. A completer may only be
// settled once; a second call to SetChannel or SetError returns
// ErrAlreadySet and has no effect.
func (c *Completer[T]) SetChannel(real Channel[T]) error {
	reply := make(chan error, 1)
	c.commands <- setChannelCmd[T]{c: real, reply: reply}
	return <-reply
}

// SetError settles the completer with an error: the stream yields exactly
// that error then closes, and the sink is already closed. See SetChannel
// for the behavior of a second call.
func (c *Completer[T]) SetError(err error) error {
	reply := make(chan error, 1)
	c.commands <- setErrorCmd{err: err, reply: reply}
	return <-reply
}

func (c *Completer[T]) run() {
	for cmd := range c.commands {
		switch cc := cmd.(type) {
		case setChannelCmd[T]:
			if c.settled {
				cc.reply <- ErrAlreadySet
				break
			}
			c.settled = true
			c.real = cc.c
			c.replay()
			if c.pendingSub {
				c.startForwarding()
			}
			cc.reply <- nil

		case setErrorCmd:
			if c.settled {
				cc.reply <- ErrAlreadySet
				break
			}
			c.settled = true
			c.settleErr = cc.err
			c.pending = nil
			if c.pendingSub {
				c.startForwarding()
			}
			c.done.resolve(cc.err)
			cc.reply <- nil

		case subscribeCmd[T]:
			if c.subscribed {
				cc.reply <- subscribeResult[T]{err: ErrAlreadySubscribed}
				break
			}
			c.subscribed = true
			c.pendingSub = true
			if c.settled {
				c.startForwarding()
			}
			cc.reply <- subscribeResult[T]{ch: c.out}

		case mutatorCmd[T]:
			if c.settled {
				cc.reply <- c.apply(cc)
				break
			}
			c.pending = append(c.pending, pendingMutator[T]{kind: cc.kind, v: cc.v, err: cc.err, src: cc.src})
			cc.reply <- nil
		}
	}
}

// replay is called once, right after settling onto a real channel, to
// forward every buffered mutator in order.
func (c *Completer[T]) replay() {
	for _, p := range c.pending {
		cmd := mutatorCmd[T]{kind: p.kind, v: p.v, err: p.err, src: p.src, reply: make(chan error, 1)}
		_ = c.apply(cmd)
	}
	c.pending = nil
}

func (c *Completer[T]) apply(cmd mutatorCmd[T]) error {
	if c.settleErr != nil || (c.real == nil && c.settled) {
		// Settled with an error: the sink is already closed.
		if cmd.kind == mutClose {
			return nil
		}
		return ErrClosed
	}
	k := c.real.Sink()
	switch cmd.kind {
	case mutAdd:
		return k.Add(cmd.v)
	case mutAddError:
		return k.AddError(cmd.err)
	case mutAddStream:
		return k.AddStream(cmd.src)
	case mutClose:
		err := k.Close()
		go func() { c.done.resolve(<-k.Done()) }()
		return err
	}
	return nil
}

type completerStream[T any] struct{ c *Completer[T] }

func (s completerStream[T]) Subscribe() (<-chan Item[T], error) {
	reply := make(chan subscribeResult[T], 1)
	s.c.commands <- subscribeCmd[T]{reply: reply}
	res := <-reply
	return res.ch, res.err
}

type completerSink[T any] struct{ c *Completer[T] }

func (s completerSink[T]) Add(v T) error {
	reply := make(chan error, 1)
	s.c.commands <- mutatorCmd[T]{kind: mutAdd, v: v, reply: reply}
	return <-reply
}

func (s completerSink[T]) AddError(err error) error {
	reply := make(chan error, 1)
	s.c.commands <- mutatorCmd[T]{kind: mutAddError, err: err, reply: reply}
	return <-reply
}

func (s completerSink[T]) AddStream(src Stream[T]) error {
	reply := make(chan error, 1)
	s.c.commands <- mutatorCmd[T]{kind: mutAddStream, src: src, reply: reply}
	return <-reply
}

func (s completerSink[T]) Close() error {
	reply := make(chan error, 1)
	s.c.commands <- mutatorCmd[T]{kind: mutClose, reply: reply}
	return <-reply
}

func (s completerSink[T]) Done() <-chan error {
	return s.c.done.Done()
}
