package streamchannel

// ErrorMode selects how a guarantee-wrapped sink's AddError behaves
// (spec.md §3 invariant 6, §6).
type ErrorMode int

const (
	// AllowErrors forwards errors added to the sink on to the remote
	// stream. This is the default.
	AllowErrors ErrorMode = iota

	// FailOnError makes AddError close the sink, resolve Done with that
	// error, and force the wrapped stream to its terminal.
	FailOnError
)

// NewGuaranteeChannel adapts an arbitrary incoming Stream and outgoing
// RawSink into a Channel satisfying every invariant in spec.md §3 (C3):
// single subscription, stream-close forces the sink into a
// silently-dropping state, sink-close forces the stream to its terminal,
// cancelling the stream subscription leaves the sink alone, and the
// chosen ErrorMode governs what AddError does.
//
// raw is subscribed exactly once, immediately, so that a broadcast raw
// stream's events are buffered from construction time rather than lost
// before a caller attaches; a single-subscription raw stream pays no
// penalty for this since nothing else will ever subscribe to it.
func NewGuaranteeChannel[T any](raw Stream[T], underlying RawSink[T], mode ErrorMode) Channel[T] {
	g := &guarantee[T]{
		out:      make(chan Item[T]),
		commands: make(chan guaranteeCmd[T]),
		pumpDone: make(chan pumpDoneCmd, 1),
		stopPump: make(chan struct{}),
		done:     newFuture(),
		mode:     mode,
		inner:    underlying,
	}

	sourceCh, err := raw.Subscribe()
	if err != nil {
		ch := make(chan Item[T], 1)
		ch <- Item[T]{Err: err}
		close(ch)
		sourceCh = ch
	}

	go g.run(sourceCh)

	return guaranteedChannel[T]{New[T](newChanStream(g.out), guaranteeSink[T]{g})}
}

// guarantee owns both halves of a guarantee-wrapped channel. All of its
// mutable state is touched only from run, the same single-goroutine
// "commands channel + dynamically-nilled outbound slot" idiom
// strest.Stream.serve uses for its own command loop.
type guarantee[T any] struct {
	out      chan Item[T]
	commands chan guaranteeCmd[T]
	pumpDone chan pumpDoneCmd
	stopPump chan struct{}

	done  *future
	mode  ErrorMode
	inner RawSink[T]

	// closed is set once the sink has been closed (either by an explicit
	// sink Close, or by a fail-on-error AddError). inner.Close is skipped
	// when the raw stream had already terminated.
	closed bool
	// streamTerminal is set when the stream is being forced to its
	// terminal from the sink side (explicit Close, or fail-on-error),
	// discarding anything buffered and not yet delivered.
	streamTerminal bool
	// outClosed is set once out has actually been closed, whether that
	// happened because the raw source ran dry and drained (mainLoop) or
	// because the sink side forced a terminal (run, after mainLoop
	// returns). run uses it to avoid closing out a second time.
	outClosed bool
	// silentlyDropping is set once the raw stream has emitted its
	// terminal; further sink mutators are then no-ops (spec invariant 3).
	silentlyDropping bool
	// inPump is set for the duration of an AddStream pump.
	inPump bool
}

type guaranteeCmd[T any] interface{ isGuaranteeCmd() }

type addCmd[T any] struct {
	v     T
	reply chan error
}

type addErrCmd[T any] struct {
	err   error
	reply chan error
}

type addStreamCmd[T any] struct {
	src   Stream[T]
	reply chan error
}

type closeCmd struct {
	reply chan error
}

type pumpItemCmd[T any] struct {
	v     T
	err   error
	reply chan struct{}
}

func (addCmd[T]) isGuaranteeCmd()       {}
func (addErrCmd[T]) isGuaranteeCmd()    {}
func (addStreamCmd[T]) isGuaranteeCmd() {}
func (closeCmd) isGuaranteeCmd()        {}
func (pumpItemCmd[T]) isGuaranteeCmd()  {}

type pumpDoneCmd struct{}

// run is the guarantee's single owning goroutine. It multiplexes three
// concerns: delivering raw source items to out (buffered when there is no
// reader, exactly like strest.Stream.serve's msgs slice), accepting sink
// commands from callers, and accepting item-at-a-time forwarding from an
// in-progress AddStream pump goroutine. mainLoop only returns once the sink
// side has forced a terminal (explicit Close, or fail-on-error); the raw
// source running dry on its own closes out but keeps the command loop
// alive, since a Sink must go on accepting (and dropping, per spec
// invariant 3) Add/AddError/Close forever after stream termination.
func (g *guarantee[T]) run(source <-chan Item[T]) {
	g.mainLoop(source)
	if !g.outClosed {
		close(g.out)
	}
	// Unblocks a still-running AddStream pump (possible when a pumped
	// error item fires fail-on-error mid-pump, since Close itself is
	// rejected with ErrPumping): spec.md §4.4 requires an analogous cancel
	// for the disconnector, and the same "treat it as completed for the
	// caller" behavior is the only sane option here too.
	close(g.stopPump)
	// The sink stays usable after the forced terminal: a repeated Close
	// returns nil and further mutators get ErrClosed.
	for cmd := range g.commands {
		g.handleCommand(cmd)
	}
}

func (g *guarantee[T]) mainLoop(source <-chan Item[T]) {
	var msgs []Item[T]
	sourceExhausted := false

	for {
		var sendCh chan Item[T]
		var next Item[T]
		if len(msgs) > 0 && !g.outClosed {
			sendCh = g.out
			next = msgs[0]
		}

		select {
		case item, ok := <-source:
			if !ok {
				source = nil
				sourceExhausted = true
				g.silentlyDropping = true
				if len(msgs) == 0 && !g.outClosed {
					close(g.out)
					g.outClosed = true
				}
				continue
			}
			msgs = append(msgs, item)

		case sendCh <- next:
			msgs = msgs[1:]
			if sourceExhausted && len(msgs) == 0 && !g.outClosed {
				close(g.out)
				g.outClosed = true
			}

		case cmd := <-g.commands:
			g.handleCommand(cmd)
			if g.streamTerminal {
				return
			}

		case <-g.pumpDone:
			g.inPump = false
		}
	}
}

func (g *guarantee[T]) handleCommand(cmd guaranteeCmd[T]) {
	switch c := cmd.(type) {
	case addCmd[T]:
		c.reply <- g.doAdd(c.v)
	case addErrCmd[T]:
		c.reply <- g.doAddError(c.err)
	case addStreamCmd[T]:
		c.reply <- g.doAddStreamStart(c.src)
	case closeCmd:
		c.reply <- g.doClose()
	case pumpItemCmd[T]:
		// The in-pump exclusion applies to other callers, not to the
		// pump's own items.
		g.inPump = false
		if c.err != nil {
			g.doAddError(c.err)
		} else {
			g.doAdd(c.v)
		}
		g.inPump = true
		close(c.reply)
	}
}

func (g *guarantee[T]) doAdd(v T) error {
	if g.closed {
		return ErrClosed
	}
	if g.inPump {
		return ErrPumping
	}
	if g.silentlyDropping {
		return nil
	}
	g.inner.Add(v)
	return nil
}

func (g *guarantee[T]) doAddError(err error) error {
	if g.closed {
		return ErrClosed
	}
	if g.inPump {
		return ErrPumping
	}
	if g.silentlyDropping {
		return nil
	}
	if g.mode == FailOnError {
		g.closed = true
		g.inner.Close()
		g.done.resolve(err)
		g.streamTerminal = true
		return nil
	}
	g.inner.AddError(err)
	return nil
}

func (g *guarantee[T]) doClose() error {
	if g.closed {
		return nil
	}
	if g.inPump {
		return ErrPumping
	}
	g.closed = true
	if !g.silentlyDropping {
		g.inner.Close()
	}
	g.done.resolve(nil)
	// spec.md §4.3 coupling: closing the sink forces the stream (if still
	// live) to its terminal, discarding anything buffered.
	g.streamTerminal = true
	return nil
}

func (g *guarantee[T]) doAddStreamStart(src Stream[T]) error {
	if g.closed {
		return ErrClosed
	}
	if g.inPump {
		return ErrPumping
	}
	if g.silentlyDropping {
		return nil
	}
	g.inPump = true
	go g.runPump(src)
	return nil
}

// runPump drains src item by item, handing each one to the owning
// goroutine via pumpItemCmd so every forwarded value goes through the same
// doAdd/doAddError path a direct Add/AddError call would. It aborts as
// soon as stopPump closes — which happens if a pumped error item fires
// fail-on-error mid-pump — draining whatever is left of src in the
// background so its producer is never left blocked. If the raw source
// terminates mid-pump, the pump keeps running and its items are dropped.
func (g *guarantee[T]) runPump(src Stream[T]) {
	defer func() { g.pumpDone <- pumpDoneCmd{} }()

	ch, err := src.Subscribe()
	if err != nil {
		g.sendPumpItem(pumpItemCmd[T]{err: err, reply: make(chan struct{})})
		return
	}
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return
			}
			cmd := pumpItemCmd[T]{reply: make(chan struct{})}
			if item.Err != nil {
				cmd.err = item.Err
			} else {
				cmd.v = item.Value
			}
			if !g.sendPumpItem(cmd) {
				go drainItems(ch)
				return
			}
		case <-g.stopPump:
			go drainItems(ch)
			return
		}
	}
}

// sendPumpItem delivers one pumped item, returning false if stopPump fired
// before the item could be handed off (or acknowledged).
func (g *guarantee[T]) sendPumpItem(cmd pumpItemCmd[T]) bool {
	select {
	case g.commands <- cmd:
	case <-g.stopPump:
		return false
	}
	select {
	case <-cmd.reply:
		return true
	case <-g.stopPump:
		return false
	}
}

func drainItems[T any](ch <-chan Item[T]) {
	for range ch {
	}
}

// guaranteeSink is the Sink[T] view of a guarantee, forwarding every
// mutator to the owning goroutine via its commands channel so that all
// guarantee state is only ever touched from run.
type guaranteeSink[T any] struct {
	g *guarantee[T]
}

func (s guaranteeSink[T]) Add(v T) error {
	reply := make(chan error, 1)
	s.g.commands <- addCmd[T]{v: v, reply: reply}
	return <-reply
}

func (s guaranteeSink[T]) AddError(err error) error {
	reply := make(chan error, 1)
	s.g.commands <- addErrCmd[T]{err: err, reply: reply}
	return <-reply
}

func (s guaranteeSink[T]) AddStream(src Stream[T]) error {
	reply := make(chan error, 1)
	s.g.commands <- addStreamCmd[T]{src: src, reply: reply}
	return <-reply
}

func (s guaranteeSink[T]) Close() error {
	reply := make(chan error, 1)
	s.g.commands <- closeCmd{reply: reply}
	return <-reply
}

func (s guaranteeSink[T]) Done() <-chan error {
	return s.g.done.Done()
}
