package streamchannel

// Channel is the abstract pair from spec.md §3: a single-subscription
// incoming Stream and an outgoing Sink, together forming one endpoint of a
// logical connection. Concrete variants (a raw pair, a guarantee-wrapped
// pair, a multiplexer's virtual channel, a port-sink transport) all just
// implement this.
type Channel[T any] interface {
	Stream() Stream[T]
	Sink() Sink[T]
}

// pair is the plain Channel built directly from a Stream and a Sink, with
// no guarantees beyond what those two already provide. It is the building
// block most other constructors in this package return.
type pair[T any] struct {
	stream Stream[T]
	sink   Sink[T]
}

// New returns the Channel pairing s and k verbatim. Use NewGuaranteeChannel
// instead when s and k do not already satisfy the full channel contract.
func New[T any](s Stream[T], k Sink[T]) Channel[T] {
	return pair[T]{stream: s, sink: k}
}

func (p pair[T]) Stream() Stream[T] { return p.stream }
func (p pair[T]) Sink() Sink[T]     { return p.sink }

// Delegate forwards Stream and Sink to an embedded Channel. (C2) It
// contributes no behavior of its own; its value is as a base for structs
// that want to override just one half while inheriting the other,
// mirroring strest's ChannelsStream / ExternalStream split between
// "something with the right channels" and "something that uses them".
type Delegate[T any] struct {
	Inner Channel[T]
}

func (d Delegate[T]) Stream() Stream[T] { return d.Inner.Stream() }
func (d Delegate[T]) Sink() Sink[T]     { return d.Inner.Sink() }

// Transformer is any channel -> channel function that preserves the
// channel contract, applied via Transform. *Disconnector is the package's
// own Transformer; codec.Transform plays the analogous role for wire
// codecs, though it takes its Codec as a second argument rather than
// implementing this interface directly.
type Transformer[T any] interface {
	Bind(c Channel[T]) Channel[T]
}

// TransformerFunc adapts a plain function to a Transformer.
type TransformerFunc[T any] func(Channel[T]) Channel[T]

func (f TransformerFunc[T]) Bind(c Channel[T]) Channel[T] { return f(c) }

// Transform returns t.Bind(c). (C1 transform)
func Transform[T any](c Channel[T], t Transformer[T]) Channel[T] {
	return t.Bind(c)
}

// ChangeStream returns a Channel whose stream is f(c.Stream()); the sink is
// retained unchanged. f must preserve the stream contract. (C1 change_stream)
func ChangeStream[T any](c Channel[T], f func(Stream[T]) Stream[T]) Channel[T] {
	return New[T](f(c.Stream()), c.Sink())
}

// ChangeSink returns a Channel whose sink is f(c.Sink()); the stream is
// retained unchanged. f must preserve the sink contract. (C1 change_sink)
func ChangeSink[T any](c Channel[T], f func(Sink[T]) Sink[T]) Channel[T] {
	return New[T](c.Stream(), f(c.Sink()))
}

// Pipe subscribes each channel's stream into the other's sink and returns
// immediately; the two pumps run concurrently. The returned channel
// receives one error per direction (nil on a clean close) and is closed
// once both directions have finished. (C1 pipe)
func Pipe[T any](a, b Channel[T]) <-chan error {
	results := make(chan error, 2)
	go func() { results <- pumpInto[T](a.Stream(), b.Sink()) }()
	go func() { results <- pumpInto[T](b.Stream(), a.Sink()) }()
	done := make(chan error, 2)
	go func() {
		defer close(done)
		done <- <-results
		done <- <-results
	}()
	return done
}

func pumpInto[T any](s Stream[T], k Sink[T]) error {
	ch, err := s.Subscribe()
	if err != nil {
		return err
	}
	for item := range ch {
		if item.Err != nil {
			if aerr := k.AddError(item.Err); aerr != nil {
				return aerr
			}
			continue
		}
		if aerr := k.Add(item.Value); aerr != nil {
			return aerr
		}
	}
	return k.Close()
}
