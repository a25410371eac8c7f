package streamchannel

import (
	"errors"
	"testing"
)

func TestControllerRoundTrip(t *testing.T) {
	local, foreign := NewController[int](AllowErrors)

	foreignStream, err := foreign.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	localStream, err := local.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	if err := local.Sink().Add(1); err != nil {
		t.Fatal(err)
	}
	if err := foreign.Sink().Add(2); err != nil {
		t.Fatal(err)
	}

	item := <-foreignStream
	if item.Value != 1 {
		t.Fatalf("foreign saw %v, want 1", item.Value)
	}
	item = <-localStream
	if item.Value != 2 {
		t.Fatalf("local saw %v, want 2", item.Value)
	}

	if err := local.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-foreignStream; ok {
		t.Fatal("foreign stream should end after local closes")
	}
}

func TestControllerFailOnErrorClosesBothSides(t *testing.T) {
	local, foreign := NewController[int](FailOnError)

	foreignStream, err := foreign.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if err := local.Sink().AddError(boom); err != nil {
		t.Fatal(err)
	}

	doneErr := <-local.Sink().Done()
	if doneErr != boom {
		t.Fatalf("Done resolved with %v, want boom", doneErr)
	}
	if _, ok := <-foreignStream; ok {
		t.Fatal("foreign stream should end once local fails")
	}
}
