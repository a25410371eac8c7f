package portsink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thejerf/streamchannel"
)

// SendPort is the one-way send half of an asynchronous message port pair
// (spec.md §4.8's "outgoing_port"). The concrete port type is left to the
// caller — in-process, over a socket, across an isolate boundary —
// streamchannel only needs this shape.
type SendPort[T any] interface {
	Send(v T) error
}

// ReceivePort is the one-way receive half (spec.md §4.8's "incoming_port"):
// a finite or infinite asynchronous source, closable independent of
// whatever SendPort feeds it.
type ReceivePort[T any] interface {
	Recv() (T, error)
	Close() error
}

// PortMessage is the envelope every message travels in on a port used for
// the ConnectSend/ConnectReceive handshake (spec.md §6 "port-sink
// handshake"): the very first message carries ReplyTo — the peer's send
// endpoint for the reply direction — and every later message carries an
// ordinary Payload with ReplyTo left nil.
type PortMessage[T any] struct {
	ReplyTo SendPort[PortMessage[T]]
	Payload T
}

// ConnectReceive is the C8 "connect_receive" handshake factory (spec.md
// §4.8): it owns port, awaits the first incoming message as the peer's
// reply send endpoint, and only then behaves as a normal channel. If the
// first message carries no reply endpoint, the returned channel's stream
// emits a single ErrProtocolViolation and closes (spec.md §8 scenario 6),
// the same "surfaces once on the stream half" contract every other
// transport error in this module follows.
func ConnectReceive[T any](port ReceivePort[PortMessage[T]]) streamchannel.Channel[T] {
	comp := streamchannel.NewCompleter[T]()
	go func() {
		msg, err := port.Recv()
		if err != nil {
			_ = comp.SetError(err)
			return
		}
		if msg.ReplyTo == nil {
			_ = comp.SetError(fmt.Errorf("%w: first port-sink message carried no reply send endpoint", streamchannel.ErrProtocolViolation))
			return
		}
		_ = comp.SetChannel(newPortChannel[T](port, msg.ReplyTo))
	}()
	return comp.Channel()
}

// ConnectSend is the C8 "connect_send" handshake factory: it mints a fresh
// receive port, sends its paired send endpoint to peerSend as the very
// first message, then behaves as a normal channel immediately — no round
// trip is required before the sink can be used, since the reply address is
// already in flight.
func ConnectSend[T any](peerSend SendPort[PortMessage[T]]) streamchannel.Channel[T] {
	send, recv := NewPortPair[PortMessage[T]]()
	_ = peerSend.Send(PortMessage[T]{ReplyTo: send})
	return newPortChannel[T](recv, peerSend)
}

// ErrPortClosed is returned by a SendPort/ReceivePort created with
// NewPortPair once its ReceivePort half has been closed.
var ErrPortClosed = errors.New("portsink: port is closed")

// NewPortPair returns a connected SendPort/ReceivePort pair backed by an
// in-process channel, the concrete Port implementation ConnectSend uses to
// mint its own bootstrap receive endpoint. Close is independent of Send:
// a Send racing a Close returns ErrPortClosed rather than panicking on a
// closed channel.
func NewPortPair[T any]() (SendPort[T], ReceivePort[T]) {
	p := &chanPort[T]{ch: make(chan T), done: make(chan struct{})}
	return chanSendPort[T]{p}, p
}

type chanPort[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

type chanSendPort[T any] struct{ p *chanPort[T] }

func (s chanSendPort[T]) Send(v T) error {
	select {
	case s.p.ch <- v:
		return nil
	case <-s.p.done:
		return ErrPortClosed
	}
}

func (p *chanPort[T]) Recv() (T, error) {
	select {
	case v := <-p.ch:
		return v, nil
	case <-p.done:
		var zero T
		return zero, ErrPortClosed
	}
}

func (p *chanPort[T]) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// newPortChannel adapts a settled (port, out) pair into the ordinary C8
// Channel behavior (spec.md §4.8's stream/sink bullets): stream is a view
// of port, sink.Add sends via out, sink.Close closes port (the only
// disconnect signal a one-way port pair has), and sink.AddError completes
// done with that error and closes port.
func newPortChannel[T any](port ReceivePort[PortMessage[T]], out SendPort[PortMessage[T]]) streamchannel.Channel[T] {
	pc := &portChannel[T]{
		port: port,
		out:  out,
		ch:   make(chan streamchannel.Item[T]),
		done: make(chan error, 1),
	}
	go pc.readPump()
	return pc
}

type portChannel[T any] struct {
	port ReceivePort[PortMessage[T]]
	out  SendPort[PortMessage[T]]
	ch   chan streamchannel.Item[T]

	mu         sync.Mutex
	subscribed bool
	closed     bool
	done       chan error
	doneOnce   sync.Once
}

func (pc *portChannel[T]) readPump() {
	defer close(pc.ch)
	for {
		msg, err := pc.port.Recv()
		if err != nil {
			pc.ch <- streamchannel.Item[T]{Err: err}
			return
		}
		pc.ch <- streamchannel.Item[T]{Value: msg.Payload}
	}
}

func (pc *portChannel[T]) Stream() streamchannel.Stream[T] { return portStream[T]{pc} }
func (pc *portChannel[T]) Sink() streamchannel.Sink[T]     { return portSink[T]{pc} }

type portStream[T any] struct{ pc *portChannel[T] }

func (s portStream[T]) Subscribe() (<-chan streamchannel.Item[T], error) {
	s.pc.mu.Lock()
	defer s.pc.mu.Unlock()
	if s.pc.subscribed {
		return nil, streamchannel.ErrAlreadySubscribed
	}
	s.pc.subscribed = true
	return s.pc.ch, nil
}

type portSink[T any] struct{ pc *portChannel[T] }

func (s portSink[T]) Add(v T) error {
	s.pc.mu.Lock()
	closed := s.pc.closed
	s.pc.mu.Unlock()
	if closed {
		return streamchannel.ErrClosed
	}
	return s.pc.out.Send(PortMessage[T]{Payload: v})
}

// AddError completes done with err and closes the incoming port, the
// closest analogue a one-way port pair has to a terminal error signal
// (spec.md §4.8).
func (s portSink[T]) AddError(err error) error {
	s.pc.resolveDone(err)
	return s.pc.port.Close()
}

func (s portSink[T]) AddStream(src streamchannel.Stream[T]) error {
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

func (s portSink[T]) Close() error {
	s.pc.mu.Lock()
	if s.pc.closed {
		s.pc.mu.Unlock()
		return nil
	}
	s.pc.closed = true
	s.pc.mu.Unlock()
	err := s.pc.port.Close()
	s.pc.resolveDone(err)
	return err
}

func (s portSink[T]) Done() <-chan error {
	return s.pc.done
}

func (pc *portChannel[T]) resolveDone(err error) {
	pc.doneOnce.Do(func() {
		pc.done <- err
		close(pc.done)
	})
}
