package streamchannel

// Sink is the outgoing half of a Channel: an ordered write endpoint. Add
// and AddError enqueue a single value or error; AddStream pumps an entire
// source Stream through in order and is exclusive with every other
// mutator while in progress (spec.md §4.3, §9's in-pump state machine);
// Close is idempotent and Done resolves once the outgoing half has
// finished, with the error it finished with, if any.
type Sink[T any] interface {
	Add(v T) error
	AddError(err error) error
	AddStream(src Stream[T]) error
	Close() error
	Done() <-chan error
}

// RawSink is the minimal, unguarded outgoing primitive NewGuaranteeChannel
// adapts into a full Sink (spec.md §4.3's "K"). It does not need to guard
// against calls after Close, or against concurrent use; NewGuaranteeChannel
// supplies all of that. Close must not panic if called more than once.
type RawSink[T any] interface {
	Add(v T)
	AddError(err error)
	Close()
}

// FuncSink builds a RawSink from three closures, for callers who would
// rather not define a named type for a one-off underlying sink.
type FuncSink[T any] struct {
	AddFunc      func(T)
	AddErrorFunc func(error)
	CloseFunc    func()
}

func (f FuncSink[T]) Add(v T)           { f.AddFunc(v) }
func (f FuncSink[T]) AddError(err error) { f.AddErrorFunc(err) }
func (f FuncSink[T]) Close()            { f.CloseFunc() }
