// Package portsink adapts transports into Channels (C8): a single
// persistent string-message connection (a websocket, a sockjs session)
// through Driver and Connect, with ConnectTyped layering this module's
// codec package on top, grounded on strest/sockjs's sockJSDriver; and a
// pair of one-way message ports (SendPort/ReceivePort) through the
// ConnectSend/ConnectReceive handshake.
package portsink

import (
	"sync"

	"github.com/thejerf/streamchannel"
)

// Driver is the minimal transport primitive a concrete connection type
// must provide: string-message send/receive plus a close with a
// code/reason, the same shape strest/sockjs's sockJSDriver wraps around
// a sockjs.Session.
type Driver interface {
	Send(s string) error
	Recv() (string, error)
	Close(code int, reason string) error
}

// Connect adapts driver into a Channel[string]: every Recv'd message
// becomes a stream Item, and Add sends a message. A Recv error ends the
// stream with that error; the sink's Close uses code 1000 ("normal
// closure"), matching sockJSDriver's own default.
func Connect(driver Driver) streamchannel.Channel[string] {
	d := &driverChannel{
		driver: driver,
		out:    make(chan streamchannel.Item[string]),
		doneCh: make(chan error, 1),
	}
	go d.readPump()
	return d
}

type driverChannel struct {
	driver Driver
	out    chan streamchannel.Item[string]

	mu         sync.Mutex
	subscribed bool
	closed     bool
	doneCh     chan error
	doneOnce   sync.Once
}

func (d *driverChannel) readPump() {
	defer close(d.out)
	for {
		msg, err := d.driver.Recv()
		if err != nil {
			d.out <- streamchannel.Item[string]{Err: err}
			return
		}
		d.out <- streamchannel.Item[string]{Value: msg}
	}
}

func (d *driverChannel) Stream() streamchannel.Stream[string] { return driverStream{d} }
func (d *driverChannel) Sink() streamchannel.Sink[string]     { return driverSink{d} }

type driverStream struct{ d *driverChannel }

func (s driverStream) Subscribe() (<-chan streamchannel.Item[string], error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.d.subscribed {
		return nil, streamchannel.ErrAlreadySubscribed
	}
	s.d.subscribed = true
	return s.d.out, nil
}

type driverSink struct{ d *driverChannel }

func (s driverSink) Add(v string) error {
	s.d.mu.Lock()
	closed := s.d.closed
	s.d.mu.Unlock()
	if closed {
		return streamchannel.ErrClosed
	}
	return s.d.driver.Send(v)
}

func (s driverSink) AddError(err error) error {
	// The driver has no side channel for errors; a caller that wants one
	// should serialize it into the message payload upstream of Connect.
	return nil
}

func (s driverSink) AddStream(src streamchannel.Stream[string]) error {
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

func (s driverSink) Close() error {
	s.d.mu.Lock()
	if s.d.closed {
		s.d.mu.Unlock()
		return nil
	}
	s.d.closed = true
	s.d.mu.Unlock()
	err := s.d.driver.Close(1000, "closed")
	s.d.doneOnce.Do(func() {
		s.d.doneCh <- err
		close(s.d.doneCh)
	})
	return err
}

func (s driverSink) Done() <-chan error {
	return s.d.doneCh
}
