package streamchannel

import (
	"errors"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"
)

// recordingSink is a RawSink that appends everything it sees, for
// asserting exactly what reached the "remote" underlying sink.
type recordingSink[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
	closed bool
}

func (r *recordingSink[T]) Add(v T)       { r.mu.Lock(); r.values = append(r.values, v); r.mu.Unlock() }
func (r *recordingSink[T]) AddError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}
func (r *recordingSink[T]) Close() { r.mu.Lock(); r.closed = true; r.mu.Unlock() }

func (r *recordingSink[T]) snapshot() ([]T, []error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...), r.closed
}

// chanSourceStream is a plain Stream[T] backed directly by a channel, used
// as the "raw S" fed into NewGuaranteeChannel in tests.
type chanSourceStream[T any] struct {
	ch chan Item[T]
}

func (c chanSourceStream[T]) Subscribe() (<-chan Item[T], error) { return c.ch, nil }

func drainAll[T any](t *testing.T, stream <-chan Item[T]) []Item[T] {
	t.Helper()
	var got []Item[T]
	for item := range stream {
		got = append(got, item)
	}
	return got
}

// Scenario 1 (spec.md §8): guarantees, fail-on-error.
func TestGuaranteeFailOnError(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, FailOnError)

	stream, err := ch.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	addErr := ch.Sink().AddError(errors.New("oh no"))
	if addErr != nil {
		t.Fatalf("AddError returned %v", addErr)
	}

	doneErr := <-ch.Sink().Done()
	if doneErr == nil || doneErr.Error() != "oh no" {
		t.Fatalf("Done resolved with %v, want \"oh no\"", doneErr)
	}

	items := drainAll(t, stream)
	if len(items) != 0 {
		t.Fatalf("wrapped stream emitted values: %#v", items)
	}

	values, errs, closed := sink.snapshot()
	if len(values) != 0 || len(errs) != 0 {
		t.Fatalf("underlying sink received values=%v errs=%v, want none", values, errs)
	}
	if !closed {
		t.Fatal("underlying sink was never closed")
	}
}

// Scenario 2 (spec.md §8): guarantees, close-then-add.
func TestGuaranteeCloseDuringConsumption(t *testing.T) {
	srcCh := make(chan Item[int])
	src := chanSourceStream[int]{ch: srcCh}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	go func() {
		srcCh <- Item[int]{Value: 1}
		srcCh <- Item[int]{Value: 2}
		srcCh <- Item[int]{Value: 3}
		close(srcCh)
	}()

	stream, err := ch.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	var got []int
	for item := range stream {
		if item.Err != nil {
			t.Fatalf("unexpected stream error: %v", item.Err)
		}
		got = append(got, item.Value)
		if item.Value == 2 {
			if cerr := ch.Sink().Close(); cerr != nil {
				t.Fatalf("Close returned %v", cerr)
			}
		}
	}

	want := []int{1, 2}
	if diffs := deep.Equal(got, want); diffs != nil {
		spew.Dump(diffs)
		t.Fatalf("stream delivered %v, want %v", got, want)
	}
}

func TestGuaranteeAllowErrorsForwards(t *testing.T) {
	srcCh := make(chan Item[int])
	src := chanSourceStream[int]{ch: srcCh}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	boom := errors.New("boom")
	if err := ch.Sink().AddError(boom); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Add(1); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	close(srcCh)

	<-ch.Sink().Done()
	values, errs, closed := sink.snapshot()
	if len(values) != 1 || values[0] != 1 {
		t.Fatalf("values = %v, want [1]", values)
	}
	if len(errs) != 1 || errs[0] != boom {
		t.Fatalf("errs = %v, want [boom]", errs)
	}
	if !closed {
		t.Fatal("underlying sink never closed")
	}
}

// Round-trip (spec.md §8): adding v1..vn then closing delivers exactly
// v1..vn followed by terminal done to the underlying sink.
func TestGuaranteeAddThenCloseRoundTrip(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	for _, v := range []int{1, 2, 3} {
		if err := ch.Sink().Add(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	<-ch.Sink().Done()

	values, _, closed := sink.snapshot()
	if diffs := deep.Equal(values, []int{1, 2, 3}); diffs != nil {
		spew.Dump(diffs)
		t.Fatalf("underlying sink saw %v", values)
	}
	if !closed {
		t.Fatal("underlying sink never closed")
	}
}

func TestGuaranteeDoubleCloseIdempotent(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Close(); err != nil {
		t.Fatalf("second Close returned %v, want nil", err)
	}
}

func TestGuaranteeAddAfterCloseFails(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Add(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after close returned %v, want ErrClosed", err)
	}
}

func TestGuaranteeSilentlyDropsAfterStreamDone(t *testing.T) {
	srcCh := make(chan Item[int])
	src := chanSourceStream[int]{ch: srcCh}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	stream, _ := ch.Stream().Subscribe()
	close(srcCh)
	for range stream {
	}

	if err := ch.Sink().Add(1); err != nil {
		t.Fatalf("Add after stream done returned %v, want nil (silently dropped)", err)
	}
	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	if err := <-ch.Sink().Done(); err != nil {
		t.Fatalf("Done resolved with %v, want nil", err)
	}

	values, _, _ := sink.snapshot()
	if len(values) != 0 {
		t.Fatalf("underlying sink saw %v, want none", values)
	}
}

func TestGuaranteeSecondSubscribeFails(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	if _, err := ch.Stream().Subscribe(); err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Stream().Subscribe(); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe returned %v, want ErrAlreadySubscribed", err)
	}
}

func TestGuaranteeAddStreamPumpsInOrder(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	pumpedCh := make(chan Item[int])
	go func() {
		pumpedCh <- Item[int]{Value: 10}
		pumpedCh <- Item[int]{Value: 20}
		close(pumpedCh)
	}()

	if err := ch.Sink().AddStream(chanSourceStream[int]{ch: pumpedCh}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Add(30); err != nil {
		t.Fatal(err)
	}

	values, _, _ := sink.snapshot()
	if diffs := deep.Equal(values, []int{10, 20, 30}); diffs != nil {
		spew.Dump(diffs)
		t.Fatalf("underlying sink saw %v", values)
	}
}

func TestGuaranteeRejectsMutatorsDuringPump(t *testing.T) {
	src := chanSourceStream[int]{ch: make(chan Item[int])}
	sink := &recordingSink[int]{}
	ch := NewGuaranteeChannel[int](src, sink, AllowErrors)

	block := make(chan Item[int])
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- ch.Sink().AddStream(chanSourceStream[int]{ch: block}) }()

	// Give the pump a chance to register before probing concurrent calls.
	// Pumping is exclusive, so Add must fail until the pump completes.
	for {
		if err := ch.Sink().Add(1); errors.Is(err, ErrPumping) {
			break
		} else if err != nil {
			t.Fatalf("Add returned unexpected error %v", err)
		}
	}

	close(block)
	if err := <-pumpDone; err != nil {
		t.Fatalf("AddStream returned %v", err)
	}
}
