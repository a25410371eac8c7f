package portsink

import (
	"errors"
	"testing"
	"time"

	"github.com/thejerf/streamchannel"
)

func TestConnectSendConnectReceiveRoundTrip(t *testing.T) {
	bootstrapSend, bootstrapRecv := NewPortPair[PortMessage[string]]()

	receiver := ConnectReceive[string](bootstrapRecv)
	sender := ConnectSend[string](bootstrapSend)

	rStream, err := receiver.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	sStream, err := sender.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	if err := sender.Sink().Add("ping"); err != nil {
		t.Fatal(err)
	}
	select {
	case item := <-rStream:
		if item.Err != nil || item.Value != "ping" {
			t.Fatalf("receiver got %+v, want ping", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping")
	}

	if err := receiver.Sink().Add("pong"); err != nil {
		t.Fatal(err)
	}
	select {
	case item := <-sStream:
		if item.Err != nil || item.Value != "pong" {
			t.Fatalf("sender got %+v, want pong", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

// TestConnectReceiveProtocolViolation is spec.md §8 scenario 6: an
// unrelated party sends a non-reply-endpoint value as the first message on
// the bootstrap port, so ConnectReceive's stream must emit a single
// protocol-violation error and close.
func TestConnectReceiveProtocolViolation(t *testing.T) {
	send, recv := NewPortPair[PortMessage[string]]()
	channel := ConnectReceive[string](recv)

	stream, err := channel.Stream().Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	if err := send.Send(PortMessage[string]{Payload: "not a reply endpoint"}); err != nil {
		t.Fatal(err)
	}

	select {
	case item := <-stream:
		if !errors.Is(item.Err, streamchannel.ErrProtocolViolation) {
			t.Fatalf("got err %v, want ErrProtocolViolation", item.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for protocol violation")
	}

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected stream to close after its single protocol-violation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream to close")
	}
}
