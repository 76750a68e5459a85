package http2

import (
	"errors"
	"fmt"
)

// ErrorCode is an HTTP/2 error code, sent on RST_STREAM and GOAWAY frames.
//
// https://tools.ietf.org/html/rfc7540#section-11.4
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeoutErr ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errCodeNames = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:      "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeoutErr: "SETTINGS_TIMEOUT",
	StreamClosedError:  "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStreamError: "REFUSED_STREAM",
	CancelError:        "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (ec ErrorCode) String() string {
	if name, ok := errCodeNames[ec]; ok {
		return name
	}

	return fmt.Sprintf("UNKNOWN_ERROR(0x%x)", uint32(ec))
}

// Error implements the error interface so an ErrorCode can be
// returned or compared directly with errors.Is.
func (ec ErrorCode) Error() string {
	return ec.String()
}

// ErrKind classifies the circumstances behind a ConnError/StreamError,
// independent of the wire ErrorCode, so a caller (e.g. a circuit
// breaker) can decide whether the failure is safe to retry without
// having to special-case every ErrorCode itself.
type ErrKind uint8

const (
	// KindProtocol marks a connection-fatal protocol or framing
	// violation: the connection is unusable and nothing on it should
	// be retried against this same connection.
	KindProtocol ErrKind = iota
	// KindIO marks a transport-level failure (read/write/timeout).
	KindIO
	// KindGraceful marks a peer-initiated graceful shutdown (GOAWAY
	// with NO_ERROR): the connection is closing, but nothing failed.
	KindGraceful
	// KindCanceled marks a single stream ended by a RST_STREAM or
	// local cancellation; the connection stays usable, but the
	// request itself may have been partially processed.
	KindCanceled
	// KindRefused marks a stream the peer never actually acted on
	// (REFUSED_STREAM, or orphaned above a GOAWAY's last_stream_id):
	// safe to retry, on this connection or a new one.
	KindRefused
)

func (k ErrKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindGraceful:
		return "graceful"
	case KindCanceled:
		return "canceled"
	case KindRefused:
		return "refused"
	}

	return "unknown"
}

// Retryable reports whether a failure of this kind is safe to retry,
// either on the same connection (graceful drain, which only rejects
// brand-new streams) or elsewhere (refused).
func (k ErrKind) Retryable() bool {
	return k == KindGraceful || k == KindRefused
}

// ConnError represents a connection-level error: one that forces the
// whole connection to be torn down with a GOAWAY frame.
type ConnError struct {
	Code   ErrorCode
	Kind   ErrKind
	Reason string
	err    error
}

// NewError builds a protocol-fatal ConnError carrying `code` and a
// human readable reason.
func NewError(code ErrorCode, reason string) *ConnError {
	return &ConnError{Code: code, Kind: KindProtocol, Reason: reason}
}

// NewGracefulError builds a ConnError representing a peer-initiated
// graceful shutdown: the connection is closing because the peer sent
// GOAWAY(NO_ERROR) and every stream it agreed to process has finished,
// not because anything went wrong.
func NewGracefulError(reason string) *ConnError {
	return &ConnError{Code: NoError, Kind: KindGraceful, Reason: reason}
}

// Retryable reports whether the circumstances behind this error allow
// a circuit breaker to retry the affected work, per Kind.
func (ce *ConnError) Retryable() bool {
	return ce.Kind.Retryable()
}

func (ce *ConnError) Error() string {
	if ce.Reason == "" {
		return ce.Code.String()
	}

	return fmt.Sprintf("%s: %s", ce.Code, ce.Reason)
}

func (ce *ConnError) Unwrap() error {
	return ce.err
}

func (ce *ConnError) Is(target error) bool {
	if tc, ok := target.(*ConnError); ok {
		return tc.Code == ce.Code
	}

	return errors.Is(ce.Code, target) || errors.Is(ce.err, target)
}

func (ce *ConnError) As(target interface{}) bool {
	return errors.As(ce.err, target)
}

// StreamError represents a stream-level error, signalled with RST_STREAM
// and scoped to a single stream; the connection stays usable.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Kind     ErrKind
	err      error
}

// NewStreamError builds a StreamError for `id` carrying `code`, for a
// stream that was canceled after the peer may already have acted on it.
func NewStreamError(id uint32, code ErrorCode) *StreamError {
	return &StreamError{StreamID: id, Code: code, Kind: KindCanceled}
}

// NewRetryableStreamError builds a StreamError for a stream the peer
// never actually processed (REFUSED_STREAM, or left orphaned above a
// GOAWAY's last_stream_id): safe to retry.
func NewRetryableStreamError(id uint32, code ErrorCode) *StreamError {
	return &StreamError{StreamID: id, Code: code, Kind: KindRefused}
}

// Retryable reports whether the circumstances behind this error allow
// a circuit breaker to retry the affected request, per Kind.
func (se *StreamError) Retryable() bool {
	return se.Kind.Retryable()
}

func (se *StreamError) Error() string {
	return fmt.Sprintf("stream %d: %s", se.StreamID, se.Code)
}

func (se *StreamError) Unwrap() error {
	return se.err
}

func (se *StreamError) Is(target error) bool {
	if ts, ok := target.(*StreamError); ok {
		return ts.Code == se.Code
	}

	return errors.Is(se.Code, target) || errors.Is(se.err, target)
}

func (se *StreamError) As(target interface{}) bool {
	return errors.As(se.err, target)
}

var (
	// ErrMissingBytes is returned when a frame's payload is shorter than
	// the minimum required by its type.
	ErrMissingBytes = errors.New("http2: frame is missing mandatory bytes")
	// ErrPayloadExceeds is returned when a frame's declared length is
	// bigger than the negotiated SETTINGS_MAX_FRAME_SIZE.
	ErrPayloadExceeds = errors.New("http2: frame payload exceeds the negotiated maximum frame size")
	// ErrBitShortcut is returned by the Huffman decoder when it walks off
	// the decoding tree before completing a symbol, or when the trailing
	// padding is longer than 7 bits or not all ones.
	ErrBitShortcut = errors.New("http2: invalid huffman code")
	// ErrUnknownPseudo names a pseudo-header this implementation does not
	// recognise. Nothing in this package returns it: header decoding
	// ignores unknown pseudo-headers.
	ErrUnknownPseudo = errors.New("http2: unknown pseudo-header")
	// ErrHeaderListTooLarge is returned when decoding would exceed the
	// negotiated or configured header list size limit.
	ErrHeaderListTooLarge = errors.New("http2: header list too large")
	// ErrTooManyHeaders is returned when a single header block carries
	// more fields than the decoder's limit (defaultMaxHeaderFields, 100).
	ErrTooManyHeaders = errors.New("http2: too many header fields")
	// ErrInvalidDynamicTableSize is returned when a peer tries to grow
	// the dynamic table past the negotiated SETTINGS_HEADER_TABLE_SIZE.
	ErrInvalidDynamicTableSize = errors.New("http2: dynamic table size update exceeds negotiated maximum")
	// ErrInvalidIndex is returned when a literal or indexed representation
	// references a table index outside the static+dynamic table bounds.
	ErrInvalidIndex = errors.New("http2: invalid HPACK index")
	// ErrPseudoHeaderOrder is returned when a pseudo-header field arrives
	// after a regular header field, or a single-valued pseudo-header
	// (e.g. :status) is repeated, in the same header block.
	ErrPseudoHeaderOrder = errors.New("http2: pseudo-header out of order or duplicated")
	// ErrRapidReset describes a rapid-reset teardown. Nothing in this
	// package returns it: when the rapid-reset mitigation closes the
	// connection, the error recorded is a ConnError with code
	// ENHANCE_YOUR_CALM.
	ErrRapidReset = errors.New("http2: too many stream resets, possible rapid reset attack")
	// ErrServerSupport indicates that the server doesn't support HTTP/2.
	ErrServerSupport = errors.New("http2: server doesn't support HTTP/2")
	// ErrNotAvailableStreams is returned when the client has exhausted
	// SETTINGS_MAX_CONCURRENT_STREAMS and cannot open a new stream.
	ErrNotAvailableStreams = errors.New("http2: ran out of available streams")
	// ErrConnClosed is returned from in-flight requests when the
	// connection is closed before they complete.
	ErrConnClosed = errors.New("http2: connection closed")
	// ErrTimeout is returned when the server stops replying to pings.
	ErrTimeout = errors.New("http2: server is not replying to pings")
)
