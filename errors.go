package streamchannel

import "errors"

// Sentinel errors covering the taxonomy in spec §7. Programming errors
// (ErrAlreadySubscribed, ErrClosed, ErrPumping, ErrAlreadySet,
// ErrDuplicateID, ErrMuxClosed) are raised synchronously from the
// operation that violated the contract; they are never swallowed.
// ErrProtocolViolation surfaces once as a stream error, the same as any
// other transport error.
var (
	// ErrAlreadySubscribed is returned by Stream.Subscribe when a stream
	// that has already vended its single subscription is subscribed again.
	ErrAlreadySubscribed = errors.New("streamchannel: stream already has a subscriber")

	// ErrClosed is returned when a sink that has already had Close called
	// on it explicitly is asked to Add, AddError, or AddStream again.
	ErrClosed = errors.New("streamchannel: sink is closed")

	// ErrPumping is returned when a sink operation is attempted while an
	// AddStream pump is already in progress on that sink.
	ErrPumping = errors.New("streamchannel: sink has a pumped stream in progress")

	// ErrAlreadySet is returned by Completer.SetChannel / Completer.SetError
	// when the completer has already been resolved.
	ErrAlreadySet = errors.New("streamchannel: completer already resolved")

	// ErrDuplicateID marks a virtual channel id that is already
	// registered. The mux package allocates ids itself (Open) or adopts
	// the peer's (Accept) and does not return this error.
	ErrDuplicateID = errors.New("streamchannel: virtual channel id already registered")

	// ErrMuxClosed is returned by mux.Mux's Open and Accept, and by its
	// virtual channels' Add, once the multiplexer has shut down.
	ErrMuxClosed = errors.New("streamchannel: multiplexer is closed")

	// ErrProtocolViolation marks a handshake or framing error: an
	// unexpected first handshake message, or a malformed frame.
	ErrProtocolViolation = errors.New("streamchannel: protocol violation")
)
