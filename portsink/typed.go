package portsink

import (
	"github.com/thejerf/streamchannel"
	"github.com/thejerf/streamchannel/codec"
)

// ConnectTyped adapts driver into a Channel[T] by layering a Codec over
// Connect's raw string Channel. Use codec.JSONString[T]{} for the common
// case.
func ConnectTyped[T any](driver Driver, c codec.Codec[T, string]) streamchannel.Channel[T] {
	return codec.Transform[T, string](Connect(driver), c)
}
