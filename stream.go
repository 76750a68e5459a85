package http2

import (
	"sync"
)

// StreamState is one of the states a client-initiated stream moves
// through over its lifetime, per the RFC 7540 section 5.1 state
// machine (push-related states are kept for symmetry, though this
// implementation never advertises push support).
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "Idle"
	case StreamStateReservedLocal:
		return "ReservedLocal"
	case StreamStateReservedRemote:
		return "ReservedRemote"
	case StreamStateOpen:
		return "Open"
	case StreamStateHalfClosedLocal:
		return "HalfClosedLocal"
	case StreamStateHalfClosedRemote:
		return "HalfClosedRemote"
	case StreamStateClosed:
		return "Closed"
	}

	return "Unknown"
}

// Stream tracks everything a connection's dispatcher needs to carry a
// single request/response exchange: flow-control windows in both
// directions, the state machine, the accumulating header block, and
// the one-shot channel the caller of Do blocks on.
type Stream struct {
	mu sync.Mutex

	id    uint32
	state StreamState

	sendWindow int32
	recvWindow int32

	req *Request
	res *Response

	rawHeaders []byte // accumulates HEADERS+CONTINUATION until END_HEADERS

	done chan error // one-shot: written to at most once
}

// NewStream creates an idle stream with the given initial windows.
func NewStream(id uint32, sendWindow, recvWindow int32) *Stream {
	return &Stream{
		id:         id,
		state:      StreamStateIdle,
		sendWindow: sendWindow,
		recvWindow: recvWindow,
		done:       make(chan error, 1),
	}
}

func (s *Stream) ID() uint32 {
	return s.id
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) SetState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

type streamEvent int8

const (
	eventSendHeaders streamEvent = iota
	eventRecvHeaders
	eventSendEndStream
	eventRecvEndStream
	eventRecvPushPromise
	eventRecvReset
	eventSendReset
)

var streamTransitions = map[StreamState]map[streamEvent]StreamState{
	StreamStateIdle: {
		eventSendHeaders:     StreamStateOpen,
		eventRecvPushPromise: StreamStateReservedRemote,
	},
	StreamStateReservedRemote: {
		eventRecvHeaders: StreamStateHalfClosedLocal,
		eventRecvReset:   StreamStateClosed,
		eventSendReset:   StreamStateClosed,
	},
	StreamStateOpen: {
		eventSendEndStream: StreamStateHalfClosedLocal,
		eventRecvEndStream: StreamStateHalfClosedRemote,
		eventRecvReset:     StreamStateClosed,
		eventSendReset:     StreamStateClosed,
	},
	StreamStateHalfClosedLocal: {
		eventRecvEndStream: StreamStateClosed,
		eventRecvReset:     StreamStateClosed,
		eventSendReset:     StreamStateClosed,
	},
	StreamStateHalfClosedRemote: {
		eventSendEndStream: StreamStateClosed,
		eventRecvReset:     StreamStateClosed,
		eventSendReset:     StreamStateClosed,
	},
}

// transition validates and applies a state change per the state
// machine above, returning a stream-level protocol error if `event`
// isn't legal from the current state.
func (s *Stream) transition(event streamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := streamTransitions[s.state][event]
	if !ok {
		return NewStreamError(s.id, ProtocolError)
	}

	s.state = next

	return nil
}

// SendWindow returns the remaining bytes this side may send on the
// stream before it must wait for a WINDOW_UPDATE.
func (s *Stream) SendWindow() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWindow
}

// IncrSendWindow applies a WINDOW_UPDATE increment, which may come from
// the peer's frame or from redistributing a SETTINGS delta.
func (s *Stream) IncrSendWindow(delta int32) {
	s.mu.Lock()
	s.sendWindow += delta
	s.mu.Unlock()
}

// ConsumeSendWindow deducts n bytes after writing a DATA frame.
func (s *Stream) ConsumeSendWindow(n int32) {
	s.mu.Lock()
	s.sendWindow -= n
	s.mu.Unlock()
}

// RecvWindow returns the remaining bytes the peer may send before this
// side must issue a WINDOW_UPDATE.
func (s *Stream) RecvWindow() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvWindow
}

func (s *Stream) ConsumeRecvWindow(n int32) {
	s.mu.Lock()
	s.recvWindow -= n
	s.mu.Unlock()
}

func (s *Stream) ReplenishRecvWindow(n int32) {
	s.mu.Lock()
	s.recvWindow += n
	s.mu.Unlock()
}

// finish delivers the terminal result to the caller blocked on Do,
// exactly once; later calls are no-ops.
func (s *Stream) finish(err error) {
	select {
	case s.done <- err:
	default:
	}
}
