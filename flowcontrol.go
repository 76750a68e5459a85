package http2

import (
	"sync/atomic"
)

// connFlow tracks the two connection-level flow-control windows
// (RFC 7540 section 6.9.1): how many bytes this side may still send,
// and how many more bytes of unacknowledged DATA the peer may still
// send before this side must reclaim window with a WINDOW_UPDATE.
//
// Both fields are accessed from the Dispatcher goroutine, except send,
// which the Writer also reads and debits when writing DATA frames, and
// both are read by Stats;
// both are therefore plain int32s manipulated with atomics rather than
// guarded by a mutex.
type connFlow struct {
	send int32 // bytes we may still send, replenished by peer WINDOW_UPDATE
	recv int32 // bytes of receive window not yet returned to the peer
}

func newConnFlow(send, recv int32) *connFlow {
	return &connFlow{send: send, recv: recv}
}

func (f *connFlow) Send() int32 {
	return atomic.LoadInt32(&f.send)
}

func (f *connFlow) IncrSend(delta int32) {
	atomic.AddInt32(&f.send, delta)
}

func (f *connFlow) ConsumeSend(n int32) {
	atomic.AddInt32(&f.send, -n)
}

func (f *connFlow) ConsumeRecv(n int32) int32 {
	return atomic.AddInt32(&f.recv, -n)
}

func (f *connFlow) ReplenishRecv(n int32) {
	atomic.AddInt32(&f.recv, n)
}

// windowUpdateThreshold is the fraction of the configured window below
// which the Dispatcher sends a WINDOW_UPDATE to reclaim flow-control
// credit, instead of acking every single byte received.
const windowUpdateThreshold = 2 // replenish once below maxWindow/2

// shouldReplenish reports whether the current recv window has dropped
// far enough below maxWindow to warrant sending a WINDOW_UPDATE, and
// if so, the increment to send to return to maxWindow.
func shouldReplenish(current, maxWindow int32) (increment int32, ok bool) {
	if current >= maxWindow/windowUpdateThreshold {
		return 0, false
	}

	return maxWindow - current, true
}

// redistributeSettingsDelta applies a change in
// SETTINGS_INITIAL_WINDOW_SIZE to every currently open stream, per
// RFC 7540 section 6.9.2: the delta (which may be negative) is added
// to each stream's send window, not its value replaced outright.
func redistributeSettingsDelta(streams *Streams, delta int32) {
	streams.Range(func(s *Stream) {
		s.IncrSendWindow(delta)
	})
}
