package mux

import (
	"context"
	"sync"

	"github.com/thejerf/streamchannel"
	"github.com/thejerf/suture/v4"
)

// ErrMuxClosed is returned by Open and Accept once the Mux has shut down.
var ErrMuxClosed = streamchannel.ErrMuxClosed

var _ suture.Service = (*Mux[int])(nil)

// DefaultID is the ID of the channel that exists for the lifetime of a
// Mux without needing to be Open'd or Accept'd.
const DefaultID uint32 = 0

// Mux multiplexes many virtual Channels over one underlying
// Channel[Frame[T]] (C7). Each side of a Mux is constructed with a
// disjoint parity for the IDs it allocates (odd/even), so both peers can
// allocate new virtual channel IDs without coordinating; the same ID
// addresses a virtual channel in both directions, the way HTTP/2 and QUIC
// avoid stream-ID collisions between client and server.
//
// A Mux implements suture.Service: add it to a supervisor (or call Serve
// directly) to start its pump before calling Open, Accept, or using the
// default channel.
type Mux[T any] struct {
	underlying streamchannel.Channel[Frame[T]]
	weAreOdd   bool

	commands chan muxCmd[T]
	accept   chan *VirtualChannel[T]

	closeOnce sync.Once
	stopped   chan struct{}

	defaultOnce sync.Once
	defaultVC   *VirtualChannel[T]
}

// NewMux returns a Mux built on underlying. weAreOdd selects which ID
// parity this side allocates from (1, 3, 5, ... vs 2, 4, 6, ...); the two
// peers of a Mux must be constructed with opposite values.
func NewMux[T any](underlying streamchannel.Channel[Frame[T]], weAreOdd bool) *Mux[T] {
	return &Mux[T]{
		underlying: underlying,
		weAreOdd:   weAreOdd,
		commands:   make(chan muxCmd[T]),
		accept:     make(chan *VirtualChannel[T]),
		stopped:    make(chan struct{}),
	}
}

// Serve runs the Mux's pump loop until ctx is cancelled or the underlying
// channel is exhausted, satisfying suture.Service.
func (m *Mux[T]) Serve(ctx context.Context) error {
	source, err := m.underlying.Stream().Subscribe()
	if err != nil {
		close(m.stopped)
		return err
	}
	r := &muxRun[T]{
		mux:      m,
		sink:     m.underlying.Sink(),
		vcs:      map[uint32]*vcState[T]{},
		nextOurs: firstID(m.weAreOdd),
	}
	r.ensure(DefaultID)
	err = r.loop(ctx, source)
	close(m.stopped)
	return err
}

func firstID(odd bool) uint32 {
	if odd {
		return 1
	}
	return 2
}

// Open allocates a new virtual channel from this side's ID pool and
// returns it immediately; no handshake is required before using it.
func (m *Mux[T]) Open() (*VirtualChannel[T], error) {
	reply := make(chan openResult[T], 1)
	select {
	case m.commands <- muxCmd[T]{kind: cmdOpen, replyVC: reply}:
	case <-m.stopped:
		return nil, ErrMuxClosed
	}
	select {
	case res := <-reply:
		return res.vc, res.err
	case <-m.stopped:
		return nil, ErrMuxClosed
	}
}

// Accept blocks until the peer opens a new virtual channel and returns
// it, analogous to net.Listener.Accept.
func (m *Mux[T]) Accept() (*VirtualChannel[T], error) {
	select {
	case vc := <-m.accept:
		return vc, nil
	case <-m.stopped:
		return nil, ErrMuxClosed
	}
}

// Default returns the always-present ID-0 channel (SPEC_FULL supplemented
// feature): no Open/Accept round trip is required to use it. The same
// *VirtualChannel is returned on every call so repeated callers (including
// Stream and Sink below) share one subscription instead of each minting a
// fresh inboxStream over the same underlying inbox, which would otherwise
// race to drain it.
func (m *Mux[T]) Default() streamchannel.Channel[T] {
	m.defaultOnce.Do(func() {
		reply := make(chan openResult[T], 1)
		select {
		case m.commands <- muxCmd[T]{kind: cmdDefault, replyVC: reply}:
		case <-m.stopped:
			return
		}
		select {
		case res := <-reply:
			m.defaultVC = res.vc
		case <-m.stopped:
		}
	})
	if m.defaultVC == nil {
		return closedChannel[T]{}
	}
	return m.defaultVC
}

// Stream returns the default channel's Stream, for callers that want the
// Mux itself to satisfy streamchannel.Channel[T] for the common case of a
// single logical conversation riding alongside any Open'd side channels.
func (m *Mux[T]) Stream() streamchannel.Stream[T] { return m.Default().Stream() }

// Sink returns the default channel's Sink. See Stream.
func (m *Mux[T]) Sink() streamchannel.Sink[T] { return m.Default().Sink() }

// Close tears the Mux down: every virtual channel (default, Open'd, and
// Accept'd) is forced to its terminal, and the underlying channel's sink
// is closed. Close is idempotent.
func (m *Mux[T]) Close() error {
	reply := make(chan error, 1)
	m.closeOnce.Do(func() {
		select {
		case m.commands <- muxCmd[T]{kind: cmdClose, replyErr: reply}:
		case <-m.stopped:
			reply <- nil
		}
	})
	select {
	case err := <-reply:
		return err
	case <-m.stopped:
		return nil
	}
}

type cmdKind int

const (
	cmdOpen cmdKind = iota
	cmdDefault
	cmdClose
	cmdSend
)

type muxCmd[T any] struct {
	kind      cmdKind
	id        uint32
	item      streamchannel.Item[T]
	isClose   bool
	replyVC   chan openResult[T]
	replyErr  chan error
}

type openResult[T any] struct {
	vc  *VirtualChannel[T]
	err error
}

type closedChannel[T any] struct{}

func (closedChannel[T]) Stream() streamchannel.Stream[T] { return closedStream[T]{} }
func (closedChannel[T]) Sink() streamchannel.Sink[T]     { return closedSink[T]{} }

type closedStream[T any] struct{}

func (closedStream[T]) Subscribe() (<-chan streamchannel.Item[T], error) {
	ch := make(chan streamchannel.Item[T])
	close(ch)
	return ch, nil
}

type closedSink[T any] struct{}

func (closedSink[T]) Add(T) error                             { return ErrMuxClosed }
func (closedSink[T]) AddError(error) error                    { return ErrMuxClosed }
func (closedSink[T]) AddStream(streamchannel.Stream[T]) error { return ErrMuxClosed }
func (closedSink[T]) Close() error                            { return nil }
func (closedSink[T]) Done() <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	close(ch)
	return ch
}
