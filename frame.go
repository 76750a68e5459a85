package http2

import (
	"fmt"
	"sync"
)

// FrameType is the type of a frame's payload.
//
// https://tools.ietf.org/html/rfc7540#section-11.2
type FrameType byte

func (ft FrameType) String() string {
	switch ft {
	case FrameData:
		return "Data"
	case FrameHeaders:
		return "Headers"
	case FramePriority:
		return "Priority"
	case FrameResetStream:
		return "RstStream"
	case FrameSettings:
		return "Settings"
	case FramePushPromise:
		return "PushPromise"
	case FramePing:
		return "Ping"
	case FrameGoAway:
		return "GoAway"
	case FrameWindowUpdate:
		return "WindowUpdate"
	case FrameContinuation:
		return "Continuation"
	}

	return fmt.Sprintf("UnknownFrame(%d)", byte(ft))
}

// FrameFlags are the flags set on a frame's header.
//
// The meaning of each bit depends on the frame type carrying it.
type FrameFlags uint8

// Has returns whether `f` has the `flag` bit set.
func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

// Add sets `flag` on `f` and returns the result.
func (f FrameFlags) Add(flag FrameFlags) FrameFlags {
	return f | flag
}

// Del clears `flag` on `f` and returns the result.
func (f FrameFlags) Del(flag FrameFlags) FrameFlags {
	return f &^ flag
}

// Frame is implemented by every HTTP/2 frame payload (DATA, HEADERS, ...).
//
// A Frame is pooled through AcquireFrame/ReleaseFrame and reused across
// connections, so implementations must fully reset their state in Reset.
type Frame interface {
	// Type returns the frame type identifying this payload.
	Type() FrameType
	// Reset resets the frame so it can be reused.
	Reset()
	// Deserialize populates the frame from the raw payload already read
	// into `fr`.
	Deserialize(fr *FrameHeader) error
	// Serialize writes the frame fields into `fr`'s payload and flags.
	Serialize(fr *FrameHeader)
}

// unknownFrame is the body used for a frame type outside the range this
// implementation recognizes. RFC 7540 section 4.1 requires unknown frame
// types to be ignored rather than rejected, so its payload is discarded
// by the reader and this stands in as an inert placeholder body.
type unknownFrame struct {
	kind FrameType
}

func (u *unknownFrame) Type() FrameType                   { return u.kind }
func (u *unknownFrame) Reset()                            {}
func (u *unknownFrame) Deserialize(fr *FrameHeader) error { return nil }
func (u *unknownFrame) Serialize(fr *FrameHeader)         {}

var _ Frame = &unknownFrame{}

var (
	dataPool         = sync.Pool{New: func() interface{} { return &Data{} }}
	headersPool      = sync.Pool{New: func() interface{} { return &Headers{} }}
	priorityPool     = sync.Pool{New: func() interface{} { return &Priority{} }}
	rstStreamPool    = sync.Pool{New: func() interface{} { return &RstStream{} }}
	settingsPool     = sync.Pool{New: func() interface{} { return &Settings{} }}
	pushPromisePool  = sync.Pool{New: func() interface{} { return &PushPromise{} }}
	pingPool         = sync.Pool{New: func() interface{} { return &Ping{} }}
	goAwayPool       = sync.Pool{New: func() interface{} { return &GoAway{} }}
	windowUpdatePool2 = sync.Pool{New: func() interface{} { return &WindowUpdate{} }}
	continuationPool = sync.Pool{New: func() interface{} { return &Continuation{} }}
)

// AcquireFrame returns a pooled Frame implementation matching `kind`.
//
// The returned Frame is reset and ready to be used. Panics if `kind` is
// not one of the known frame types; callers must check the type range
// before calling (see FrameHeader.readFrom).
func AcquireFrame(kind FrameType) Frame {
	var fr Frame

	switch kind {
	case FrameData:
		fr = dataPool.Get().(*Data)
	case FrameHeaders:
		fr = headersPool.Get().(*Headers)
	case FramePriority:
		fr = priorityPool.Get().(*Priority)
	case FrameResetStream:
		fr = rstStreamPool.Get().(*RstStream)
	case FrameSettings:
		fr = settingsPool.Get().(*Settings)
	case FramePushPromise:
		fr = pushPromisePool.Get().(*PushPromise)
	case FramePing:
		fr = pingPool.Get().(*Ping)
	case FrameGoAway:
		fr = goAwayPool.Get().(*GoAway)
	case FrameWindowUpdate:
		fr = windowUpdatePool2.Get().(*WindowUpdate)
	case FrameContinuation:
		fr = continuationPool.Get().(*Continuation)
	default:
		panic(fmt.Sprintf("http2: unknown frame type %d", kind))
	}

	fr.Reset()

	return fr
}

// ReleaseFrame returns `fr` to its pool. A nil Frame is a no-op.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}

	switch f := fr.(type) {
	case *Data:
		dataPool.Put(f)
	case *Headers:
		headersPool.Put(f)
	case *Priority:
		priorityPool.Put(f)
	case *RstStream:
		rstStreamPool.Put(f)
	case *Settings:
		settingsPool.Put(f)
	case *PushPromise:
		pushPromisePool.Put(f)
	case *Ping:
		pingPool.Put(f)
	case *GoAway:
		goAwayPool.Put(f)
	case *WindowUpdate:
		windowUpdatePool2.Put(f)
	case *Continuation:
		continuationPool.Put(f)
	}
}
