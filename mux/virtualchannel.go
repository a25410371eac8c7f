package mux

import (
	"context"
	"sync"

	"github.com/thejerf/streamchannel"
)

// muxRun owns every piece of mutable Mux state, touched only from the
// single goroutine Serve runs — the same command-channel idiom
// streamchannel's own guarantee type uses, generalized here to also pump
// an underlying transport stream instead of just servicing a command
// queue.
type muxRun[T any] struct {
	mux      *Mux[T]
	sink     streamchannel.Sink[Frame[T]]
	vcs      map[uint32]*vcState[T]
	nextOurs uint32

	// defaultClosed is set once this side has closed the default virtual
	// channel's sink, one half of the spec.md §3 underlying-teardown
	// condition ("closed only when the default virtual channel's sink is
	// closed and all non-default virtual channels are closed").
	defaultClosed bool
}

type vcState[T any] struct {
	id           uint32
	inbox        *inbox[T]
	localClosed  bool // we have sent a Close frame for this ID
	remoteClosed bool // we have received a Close frame for this ID
}

func (r *muxRun[T]) ensure(id uint32) *vcState[T] {
	st, ok := r.vcs[id]
	if ok {
		return st
	}
	st = &vcState[T]{id: id, inbox: newInbox[T]()}
	r.vcs[id] = st

	// An ID we did not just allocate ourselves, appearing for the first
	// time, is the peer opening a new virtual channel; surface it via
	// Accept. Delivered from a fresh goroutine so a caller not currently
	// blocked in Accept can never stall the pump.
	if id != DefaultID && !r.isOurs(id) {
		vc := newVirtualChannel[T](r.mux, id, st.inbox)
		go func() {
			select {
			case r.mux.accept <- vc:
			case <-r.mux.stopped:
			}
		}()
	}
	return st
}

func (r *muxRun[T]) isOurs(id uint32) bool {
	if r.mux.weAreOdd {
		return id%2 == 1
	}
	return id%2 == 0
}

func (r *muxRun[T]) loop(ctx context.Context, source <-chan streamchannel.Item[Frame[T]]) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()

		case item, ok := <-source:
			if !ok {
				r.shutdown()
				return nil
			}
			r.deliver(item)

		case cmd := <-r.mux.commands:
			if r.handle(cmd) {
				return nil
			}
		}
	}
}

func (r *muxRun[T]) deliver(item streamchannel.Item[Frame[T]]) {
	if item.Err != nil {
		// Transport errors surface on the default channel only.
		if st, ok := r.vcs[DefaultID]; ok {
			st.inbox.push(streamchannel.Item[T]{Err: item.Err})
		}
		return
	}
	frame := item.Value
	st := r.ensure(frame.ID)
	if st.remoteClosed {
		return
	}
	if frame.Close {
		st.remoteClosed = true
		st.inbox.close()
		r.retireIfFullyClosed(frame.ID)
		return
	}
	st.inbox.push(streamchannel.Item[T]{Value: frame.Payload})
}

// retireIfFullyClosed drops a non-default virtual channel's bookkeeping
// once both directions have closed, so allNonDefaultClosed doesn't have to
// remember channels that are done for good (spec.md §3: "closing one does
// not affect others").
func (r *muxRun[T]) retireIfFullyClosed(id uint32) {
	if id == DefaultID {
		return
	}
	if st, ok := r.vcs[id]; ok && st.localClosed && st.remoteClosed {
		delete(r.vcs, id)
	}
}

// allNonDefaultClosed reports whether every non-default virtual channel
// this side knows about has had its sink closed locally.
func (r *muxRun[T]) allNonDefaultClosed() bool {
	for id, st := range r.vcs {
		if id != DefaultID && !st.localClosed {
			return false
		}
	}
	return true
}

func (r *muxRun[T]) handle(cmd muxCmd[T]) (done bool) {
	switch cmd.kind {
	case cmdOpen:
		id := r.nextOurs
		r.nextOurs += 2
		st := r.ensure(id)
		cmd.replyVC <- openResult[T]{vc: newVirtualChannel[T](r.mux, id, st.inbox)}

	case cmdDefault:
		st := r.ensure(DefaultID)
		cmd.replyVC <- openResult[T]{vc: newVirtualChannel[T](r.mux, DefaultID, st.inbox)}

	case cmdSend:
		st := r.ensure(cmd.id)
		if cmd.isClose {
			if !st.localClosed {
				st.localClosed = true
				_ = r.sink.Add(Frame[T]{ID: cmd.id, Close: true})
				if cmd.id == DefaultID {
					r.defaultClosed = true
				}
				r.retireIfFullyClosed(cmd.id)
			}
			cmd.replyErr <- nil
			// spec.md §3: the underlying transport tears down once the
			// default sink is closed and every non-default virtual
			// channel is closed too.
			if r.defaultClosed && r.allNonDefaultClosed() {
				r.shutdown()
				_ = r.sink.Close()
				return true
			}
			return false
		}
		if st.localClosed {
			cmd.replyErr <- streamchannel.ErrClosed
			return false
		}
		cmd.replyErr <- r.sink.Add(Frame[T]{ID: cmd.id, Payload: cmd.item.Value})

	case cmdClose:
		r.shutdown()
		cmd.replyErr <- r.sink.Close()
		return true
	}
	return false
}

func (r *muxRun[T]) shutdown() {
	for _, st := range r.vcs {
		st.inbox.close()
	}
}

// VirtualChannel is one multiplexed Channel[T] produced by Open, Accept,
// or Default.
type VirtualChannel[T any] struct {
	id     uint32
	mux    *Mux[T]
	stream streamchannel.Stream[T]
}

func newVirtualChannel[T any](m *Mux[T], id uint32, in *inbox[T]) *VirtualChannel[T] {
	return &VirtualChannel[T]{id: id, mux: m, stream: newInboxStream[T](in)}
}

// ID returns this virtual channel's multiplexing ID.
func (vc *VirtualChannel[T]) ID() uint32 { return vc.id }

func (vc *VirtualChannel[T]) Stream() streamchannel.Stream[T] { return vc.stream }
func (vc *VirtualChannel[T]) Sink() streamchannel.Sink[T]     { return vcSink[T]{vc} }

// vcSink forwards every mutator to the Mux's single pump goroutine, which
// is the only thing allowed to touch the underlying channel's Sink.
type vcSink[T any] struct{ vc *VirtualChannel[T] }

func (s vcSink[T]) Add(v T) error {
	reply := make(chan error, 1)
	select {
	case s.vc.mux.commands <- muxCmd[T]{kind: cmdSend, id: s.vc.id, item: streamchannel.Item[T]{Value: v}, replyErr: reply}:
	case <-s.vc.mux.stopped:
		return ErrMuxClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.vc.mux.stopped:
		return ErrMuxClosed
	}
}

// AddError has no wire representation in Frame[T] (SPEC_FULL's codec
// layer carries errors out of band, not this package); it is accepted
// and silently dropped, matching a decode error never closing a channel.
func (s vcSink[T]) AddError(error) error { return nil }

func (s vcSink[T]) AddStream(src streamchannel.Stream[T]) error {
	ch, err := src.Subscribe()
	if err != nil {
		return err
	}
	for item := range ch {
		if item.Err != nil {
			continue
		}
		if err := s.Add(item.Value); err != nil {
			go func() {
				for range ch {
				}
			}()
			return err
		}
	}
	return nil
}

func (s vcSink[T]) Close() error {
	reply := make(chan error, 1)
	select {
	case s.vc.mux.commands <- muxCmd[T]{kind: cmdSend, id: s.vc.id, isClose: true, replyErr: reply}:
	case <-s.vc.mux.stopped:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-s.vc.mux.stopped:
		return nil
	}
}

func (s vcSink[T]) Done() <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-s.vc.mux.stopped
		ch <- nil
		close(ch)
	}()
	return ch
}

// inbox is an unbounded, single-subscription item queue fed exclusively
// by the Mux's pump goroutine and drained by whatever subscribes to the
// virtual channel's Stream — mirroring streamchannel's own unboundedQueue
// without depending on its unexported internals.
type inbox[T any] struct {
	mu     sync.Mutex
	items  []streamchannel.Item[T]
	closed bool
	notify chan struct{}
}

func newInbox[T any]() *inbox[T] {
	return &inbox[T]{notify: make(chan struct{}, 1)}
}

func (b *inbox[T]) push(item streamchannel.Item[T]) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, item)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox[T]) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox[T]) pop() (streamchannel.Item[T], bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			item := b.items[0]
			b.items = b.items[1:]
			b.mu.Unlock()
			return item, true
		}
		if b.closed {
			b.mu.Unlock()
			return streamchannel.Item[T]{}, false
		}
		b.mu.Unlock()
		<-b.notify
	}
}

type inboxStream[T any] struct {
	mu         sync.Mutex
	subscribed bool
	in         *inbox[T]
}

func newInboxStream[T any](in *inbox[T]) *inboxStream[T] {
	return &inboxStream[T]{in: in}
}

func (s *inboxStream[T]) Subscribe() (<-chan streamchannel.Item[T], error) {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil, streamchannel.ErrAlreadySubscribed
	}
	s.subscribed = true
	s.mu.Unlock()

	out := make(chan streamchannel.Item[T])
	go func() {
		defer close(out)
		for {
			item, ok := s.in.pop()
			if !ok {
				return
			}
			out <- item
		}
	}()
	return out, nil
}
