package portsink

import (
	"errors"
	"sync"
	"testing"

	"github.com/thejerf/streamchannel/codec"
)

type fakeDriver struct {
	mu      sync.Mutex
	inbox   []string
	recvErr error
	sent    []string
	closed  bool
}

func (f *fakeDriver) Send(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeDriver) Recv() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) > 0 {
		msg := f.inbox[0]
		f.inbox = f.inbox[1:]
		return msg, nil
	}
	return "", f.recvErr
}

func (f *fakeDriver) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestConnectDeliversIncomingMessages(t *testing.T) {
	d := &fakeDriver{inbox: []string{"one", "two"}, recvErr: errors.New("eof")}
	ch := Connect(d)

	stream, err := ch.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	first := <-stream
	if first.Value != "one" {
		t.Fatalf("got %q, want one", first.Value)
	}
	second := <-stream
	if second.Value != "two" {
		t.Fatalf("got %q, want two", second.Value)
	}
	third := <-stream
	if third.Err == nil {
		t.Fatal("expected recv error to surface as a stream item")
	}
}

func TestConnectSinkSendsAndCloses(t *testing.T) {
	d := &fakeDriver{recvErr: errors.New("eof")}
	ch := Connect(d)

	if err := ch.Sink().Add("hello"); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Sink().Add("too late"); err == nil {
		t.Fatal("expected Add after Close to fail")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) != 1 || d.sent[0] != "hello" {
		t.Fatalf("driver saw %v, want [hello]", d.sent)
	}
	if !d.closed {
		t.Fatal("driver was never closed")
	}
}

type payload struct {
	N int `json:"n"`
}

func TestConnectTypedRoundTrip(t *testing.T) {
	d := &fakeDriver{inbox: []string{`{"n":7}`}, recvErr: errors.New("eof")}
	typed := ConnectTyped[payload](d, codec.JSONString[payload]{})

	stream, err := typed.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	item := <-stream
	if item.Err != nil || item.Value.N != 7 {
		t.Fatalf("got %+v err=%v, want N=7", item.Value, item.Err)
	}

	if err := typed.Sink().Add(payload{N: 9}); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) != 1 || d.sent[0] != `{"n":9}` {
		t.Fatalf("driver saw %v, want [{\"n\":9}]", d.sent)
	}
}
