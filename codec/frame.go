package codec

import (
	"encoding/json"
	"fmt"

	"github.com/thejerf/streamchannel"
	"github.com/thejerf/streamchannel/mux"
)

// FrameJSON encodes mux.Frame[T] as a bare positional JSON array instead
// of a tagged object: [id] for a close frame, [id, payload] for a data
// frame. This is the framing dart-lang/stream_channel's own multiplexer
// uses on the wire; strest's tagged-struct EventToUser/EventFromUser
// framing remains available as an alternate Codec for callers that want
// self-describing frames instead.
type FrameJSON[T any] struct{}

func (FrameJSON[T]) Encode(f mux.Frame[T]) ([]byte, error) {
	if f.Close {
		return json.Marshal([1]uint32{f.ID})
	}
	return json.Marshal([2]interface{}{f.ID, f.Payload})
}

func (FrameJSON[T]) Decode(w []byte) (mux.Frame[T], error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(w, &raw); err != nil {
		return mux.Frame[T]{}, fmt.Errorf("%w: %v", streamchannel.ErrProtocolViolation, err)
	}

	switch len(raw) {
	case 1:
		var id uint32
		if err := json.Unmarshal(raw[0], &id); err != nil {
			return mux.Frame[T]{}, fmt.Errorf("%w: %v", streamchannel.ErrProtocolViolation, err)
		}
		return mux.Frame[T]{ID: id, Close: true}, nil

	case 2:
		var id uint32
		if err := json.Unmarshal(raw[0], &id); err != nil {
			return mux.Frame[T]{}, fmt.Errorf("%w: %v", streamchannel.ErrProtocolViolation, err)
		}
		var payload T
		if err := json.Unmarshal(raw[1], &payload); err != nil {
			return mux.Frame[T]{}, fmt.Errorf("%w: %v", streamchannel.ErrProtocolViolation, err)
		}
		return mux.Frame[T]{ID: id, Payload: payload}, nil

	default:
		return mux.Frame[T]{}, streamchannel.ErrProtocolViolation
	}
}
