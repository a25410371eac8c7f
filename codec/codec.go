// Package codec adapts a byte-oriented Channel into a typed one (C9),
// the pluggable encode/decode boundary spec.md treats as an external
// collaborator rather than part of the core contract. The default Codec
// uses encoding/json, the way strest's EventToUser/EventFromUser travel
// as JSON over a sockjs session.
package codec

import (
	"encoding/json"

	"github.com/thejerf/streamchannel"
)

// Codec converts between a wire representation W and a value T.
type Codec[T any, W any] interface {
	Encode(T) (W, error)
	Decode(W) (T, error)
}

// JSON is the default Codec (C9), built on encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Decode(w []byte) (T, error) {
	var v T
	err := json.Unmarshal(w, &v)
	return v, err
}

// JSONString is JSON for transports that frame with strings rather than
// raw bytes, such as portsink's Driver.
type JSONString[T any] struct{}

func (JSONString[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (JSONString[T]) Decode(w string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(w), &v)
	return v, err
}

// Transform wraps a Channel[W] as a Channel[T] using c. A decode failure
// surfaces as a single stream error Item without closing the wrapped
// stream — the underlying transport may still be healthy even though one
// frame didn't parse — while an encode failure on Add is returned
// synchronously to the caller, since the caller is in the best position
// to decide whether to retry or abandon. Within an AddStream pump, an
// encode failure is passed to the wrapped sink as an error item instead.
func Transform[T any, W any](inner streamchannel.Channel[W], c Codec[T, W]) streamchannel.Channel[T] {
	return streamchannel.New[T](
		&decodeStream[T, W]{inner: inner.Stream(), codec: c},
		&encodeSink[T, W]{inner: inner.Sink(), codec: c},
	)
}

type decodeStream[T any, W any] struct {
	inner streamchannel.Stream[W]
	codec Codec[T, W]
}

func (d *decodeStream[T, W]) Subscribe() (<-chan streamchannel.Item[T], error) {
	src, err := d.inner.Subscribe()
	if err != nil {
		return nil, err
	}
	out := make(chan streamchannel.Item[T])
	go func() {
		defer close(out)
		for item := range src {
			if item.Err != nil {
				out <- streamchannel.Item[T]{Err: item.Err}
				continue
			}
			v, err := d.codec.Decode(item.Value)
			if err != nil {
				out <- streamchannel.Item[T]{Err: err}
				continue
			}
			out <- streamchannel.Item[T]{Value: v}
		}
	}()
	return out, nil
}

type encodeSink[T any, W any] struct {
	inner streamchannel.Sink[W]
	codec Codec[T, W]
}

func (e *encodeSink[T, W]) Add(v T) error {
	w, err := e.codec.Encode(v)
	if err != nil {
		return err
	}
	return e.inner.Add(w)
}

func (e *encodeSink[T, W]) AddError(err error) error {
	return e.inner.AddError(err)
}

func (e *encodeSink[T, W]) AddStream(src streamchannel.Stream[T]) error {
	ch, err := src.Subscribe()
	if err != nil {
		return err
	}
	return e.inner.AddStream(&encodedStream[T, W]{src: ch, codec: e.codec})
}

func (e *encodeSink[T, W]) Close() error { return e.inner.Close() }

func (e *encodeSink[T, W]) Done() <-chan error { return e.inner.Done() }

// encodedStream lazily encodes a Stream[T] into a Stream[W] so AddStream
// can pump it through a byte-oriented sink one item at a time.
type encodedStream[T any, W any] struct {
	src   <-chan streamchannel.Item[T]
	codec Codec[T, W]
}

func (s *encodedStream[T, W]) Subscribe() (<-chan streamchannel.Item[W], error) {
	out := make(chan streamchannel.Item[W])
	go func() {
		defer close(out)
		for item := range s.src {
			if item.Err != nil {
				out <- streamchannel.Item[W]{Err: item.Err}
				continue
			}
			w, err := s.codec.Encode(item.Value)
			if err != nil {
				out <- streamchannel.Item[W]{Err: err}
				continue
			}
			out <- streamchannel.Item[W]{Value: w}
		}
	}()
	return out, nil
}
