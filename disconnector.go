package streamchannel

import "sync"

// Disconnector is a stateful Transformer (C4). Every channel produced by
// Bind is remembered; calling Disconnect severs all of them at once: each
// wrapped sink is closed and each wrapped stream is forced to an immediate
// terminal done. An AddStream pump in progress on a wrapped sink stops at
// its next pumped item, dropping the rest and returning nil; until then
// it keeps blocking its caller, and other mutators on that sink keep
// returning ErrPumping. Disconnect is idempotent and returns a channel
// that closes once every bound sink has been closed and every bound
// stream forced; it does not wait for in-progress AddStream pumps.
type Disconnector[T any] struct {
	mu           sync.Mutex
	wrapped      []*disconnectChannel[T]
	disconnected bool
	quiesced     chan struct{}
}

// NewDisconnector returns a Disconnector with no channels bound yet.
func NewDisconnector[T any]() *Disconnector[T] {
	return &Disconnector[T]{}
}

// Bind returns a channel wrapping c that Disconnect will sever. (C4 bind)
func (d *Disconnector[T]) Bind(c Channel[T]) Channel[T] {
	dc := newDisconnectChannel[T](c)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disconnected {
		// A channel produced after Disconnect was already called starts
		// out disconnected, consistent with Disconnect applying to "all
		// wrapped channels it has produced" — this one just never had a
		// connected interval.
		dc.disconnect()
		return dc
	}
	d.wrapped = append(d.wrapped, dc)
	return dc
}

// Disconnect severs every channel this Disconnector has produced. It is
// idempotent: a second call returns the same quiescence signal as the
// first.
func (d *Disconnector[T]) Disconnect() <-chan struct{} {
	d.mu.Lock()
	if d.disconnected {
		q := d.quiesced
		d.mu.Unlock()
		return q
	}
	d.disconnected = true
	wrapped := d.wrapped
	quiesced := make(chan struct{})
	d.quiesced = quiesced
	d.mu.Unlock()

	go func() {
		var wg sync.WaitGroup
		for _, dc := range wrapped {
			wg.Add(1)
			go func(dc *disconnectChannel[T]) {
				defer wg.Done()
				dc.disconnect()
			}(dc)
		}
		wg.Wait()
		close(quiesced)
	}()

	return quiesced
}

// disconnectChannel is one channel produced by Disconnector.Bind.
type disconnectChannel[T any] struct {
	stream *disconnectStream[T]
	sink   *disconnectSink[T]
}

func newDisconnectChannel[T any](inner Channel[T]) *disconnectChannel[T] {
	return &disconnectChannel[T]{
		stream: newDisconnectStream[T](inner.Stream()),
		sink:   newDisconnectSink[T](inner.Sink()),
	}
}

func (dc *disconnectChannel[T]) Stream() Stream[T] { return dc.stream }
func (dc *disconnectChannel[T]) Sink() Sink[T]     { return dc.sink }

func (dc *disconnectChannel[T]) disconnect() {
	dc.sink.disconnect()
	dc.stream.force()
}

// disconnectStream relays inner's events verbatim until force is called,
// at which point it closes immediately and drains whatever is left of
// inner in the background so inner's producer is never left blocked.
type disconnectStream[T any] struct {
	out         chan Item[T]
	forceCh     chan struct{}
	forceOnce   sync.Once
	mu          sync.Mutex
	subscribed  bool
	subscribeOK bool
}

func newDisconnectStream[T any](inner Stream[T]) *disconnectStream[T] {
	ds := &disconnectStream[T]{
		out:     make(chan Item[T]),
		forceCh: make(chan struct{}),
	}

	src, err := inner.Subscribe()
	if err != nil {
		close(ds.out)
		return ds
	}
	go ds.run(src)
	return ds
}

func (ds *disconnectStream[T]) run(src <-chan Item[T]) {
	defer close(ds.out)
	for {
		select {
		case <-ds.forceCh:
			go drainItems(src)
			return
		case item, ok := <-src:
			if !ok {
				return
			}
			select {
			case ds.out <- item:
			case <-ds.forceCh:
				go drainItems(src)
				return
			}
		}
	}
}

func (ds *disconnectStream[T]) Subscribe() (<-chan Item[T], error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.subscribed {
		return nil, ErrAlreadySubscribed
	}
	ds.subscribed = true
	return ds.out, nil
}

func (ds *disconnectStream[T]) force() {
	ds.forceOnce.Do(func() { close(ds.forceCh) })
}

// disconnectSink forwards to inner until disconnected, at which point it
// keeps accepting calls but silently drops them — unless the user had
// already called Close explicitly before the disconnect, in which case
// further mutators keep raising ErrClosed (spec.md open questions: "this
// preserves user-intent observability").
type disconnectSink[T any] struct {
	mu           sync.Mutex
	inner        Sink[T]
	explicitly   bool // user called Close before any disconnect
	disconnected bool
	inPump       bool
	done         *future
}

func newDisconnectSink[T any](inner Sink[T]) *disconnectSink[T] {
	return &disconnectSink[T]{inner: inner, done: newFuture()}
}

func (s *disconnectSink[T]) Add(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.explicitly {
		return ErrClosed
	}
	if s.inPump {
		return ErrPumping
	}
	if s.disconnected {
		return nil
	}
	return s.inner.Add(v)
}

func (s *disconnectSink[T]) AddError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.explicitly {
		return ErrClosed
	}
	if s.inPump {
		return ErrPumping
	}
	if s.disconnected {
		return nil
	}
	return s.inner.AddError(err)
}

func (s *disconnectSink[T]) AddStream(src Stream[T]) error {
	s.mu.Lock()
	if s.explicitly {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.inPump {
		s.mu.Unlock()
		return ErrPumping
	}
	s.inPump = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inPump = false
		s.mu.Unlock()
	}()

	ch, err := src.Subscribe()
	if err != nil {
		return err
	}
	for item := range ch {
		s.mu.Lock()
		disconnected := s.disconnected
		s.mu.Unlock()
		if disconnected {
			go drainItems(ch)
			return nil
		}
		if item.Err != nil {
			_ = s.inner.AddError(item.Err)
		} else {
			_ = s.inner.Add(item.Value)
		}
	}
	return nil
}

func (s *disconnectSink[T]) Close() error {
	s.mu.Lock()
	if s.explicitly {
		s.mu.Unlock()
		return nil
	}
	if s.inPump {
		s.mu.Unlock()
		return ErrPumping
	}
	s.explicitly = true
	s.mu.Unlock()
	err := s.inner.Close()
	s.done.resolve(err)
	return err
}

func (s *disconnectSink[T]) Done() <-chan error {
	return s.done.Done()
}

// disconnect is called exactly once by Disconnector.Disconnect for every
// channel it produced. If the user already called Close explicitly, the
// inner sink is already closed and done already resolved; otherwise it
// closes inner now and resolves done with nil.
func (s *disconnectSink[T]) disconnect() {
	s.mu.Lock()
	if s.disconnected || s.explicitly {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	s.mu.Unlock()

	_ = s.inner.Close()
	s.done.resolve(nil)
}
