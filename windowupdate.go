package http2

import (
	"github.com/nomadlabsinc/h2o/http2utils"
)

const FrameWindowUpdate FrameType = 0x8

var _ Frame = &WindowUpdate{}

// WindowUpdate represents a WINDOW_UPDATE frame, used to implement
// flow control at both the connection and stream level.
//
// https://tools.ietf.org/html/rfc7540#section-6.9
type WindowUpdate struct {
	increment uint32
}

func (wu *WindowUpdate) Type() FrameType {
	return FrameWindowUpdate
}

// Reset ...
func (wu *WindowUpdate) Reset() {
	wu.increment = 0
}

// CopyTo ...
func (wu *WindowUpdate) CopyTo(w *WindowUpdate) {
	w.increment = wu.increment
}

// Increment returns the window size increment.
func (wu *WindowUpdate) Increment() uint32 {
	return wu.increment
}

// SetIncrement sets the window size increment.
func (wu *WindowUpdate) SetIncrement(increment int) {
	wu.increment = uint32(increment) & (1<<31 - 1)
}

func (wu *WindowUpdate) Deserialize(fr *FrameHeader) error {
	if len(fr.payload) < 4 {
		return ErrMissingBytes
	}

	wu.increment = http2utils.BytesToUint32(fr.payload) & (1<<31 - 1)

	return nil
}

func (wu *WindowUpdate) Serialize(fr *FrameHeader) {
	fr.payload = http2utils.AppendUint32Bytes(fr.payload[:0], wu.increment)
}
