package http2

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultPingInterval is used when ConnOpts.PingInterval is zero.
const DefaultPingInterval = 15 * time.Second

// outboundQueueSize and inboundQueueSize bound the Writer's and
// Dispatcher's work queues. They give the engine backpressure instead
// of unbounded buffering: once full, Conn.Write blocks the caller and
// the Reader blocks on handing frames to the Dispatcher, rather than
// growing memory without limit under a slow peer.
const (
	outboundQueueSize = 128
	inboundQueueSize  = 128
)

// ConnOpts defines the connection options.
type ConnOpts struct {
	// PingInterval defines the interval in which the client will ping the server.
	//
	// An interval of 0 will make the library use DefaultPingInterval. Ping intervals can't be disabled,
	// only the server's acknowledgement checking can (see DisablePingChecking).
	PingInterval time.Duration
	// DisablePingChecking disables closing the connection after missing
	// too many ping acknowledgements.
	DisablePingChecking bool
	// OnDisconnect is a callback that fires when the Conn disconnects.
	OnDisconnect func(c *Conn)
	// MaxHeaderListSize bounds the decoded size of any single header
	// list. Zero means defaultMaxHeaderListSize (32 KiB).
	MaxHeaderListSize uint32
}

// Handshake performs an HTTP/2 handshake: it sends the client preface
// (if `preface`), a SETTINGS frame, and a WINDOW_UPDATE for the
// connection window.
func Handshake(preface bool, bw *bufio.Writer, st *Settings, maxWin int32) error {
	if preface {
		if err := WritePreface(bw); err != nil {
			return err
		}
	}

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	st2 := AcquireFrame(FrameSettings).(*Settings)
	st.CopyTo(st2)

	fr.SetBody(st2)

	_, err := fr.WriteTo(bw)
	if err != nil {
		return err
	}

	if maxWin <= 0 {
		return bw.Flush()
	}

	fr = AcquireFrameHeader()
	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(int(maxWin))

	fr.SetBody(wu)

	if _, err = fr.WriteTo(bw); err != nil {
		return err
	}

	return bw.Flush()
}

// Conn represents a single HTTP/2 connection over TCP (+TLS).
//
// A Conn runs three goroutines after Handshake succeeds: a Reader that
// only decodes frames off the wire, a Dispatcher that owns all mutable
// protocol state (the stream table, flow-control windows, HPACK
// contexts) and reacts to decoded frames and outgoing requests, and a
// Writer that is the sole goroutine allowed to write to the socket.
// Funnelling every write through one goroutine is what lets DATA,
// HEADERS, and control frames interleave safely without a mutex around
// the wire itself.
type Conn struct {
	c net.Conn

	br *bufio.Reader
	bw *bufio.Writer

	enc *HPACK
	dec *HPACK

	nextID uint32

	flow *connFlow

	streams     Streams
	openStreams int32

	local  Settings
	remote Settings

	resets resetCounter

	maxHeaderListSize uint32

	in     chan *Ctx         // new requests queued by callers
	out    chan *FrameHeader // control frames queued by the Dispatcher
	frames chan *FrameHeader // decoded frames queued by the Reader

	pingInterval time.Duration

	unacks      int32
	disableAcks bool

	lastErr      error
	onDisconnect func(*Conn)

	// goAway is set once a GOAWAY has been received, putting the
	// connection in draining mode: no new streams may open, but every
	// stream at or below goAwayID is still allowed to run to completion.
	goAway   uint64
	goAwayID uint32
	closed   uint64

	// headerBlockStreamID is non-zero while a HEADERS or PUSH_PROMISE
	// frame without END_HEADERS is awaiting its CONTINUATION. Only the
	// Dispatcher goroutine touches it.
	headerBlockStreamID uint32

	// flowUpdated wakes the Writer when it's blocked in awaitSendWindow:
	// a buffered, best-effort "something changed" kick rather than an
	// exact count, since the waiter always re-reads the real windows.
	flowUpdated chan struct{}
	// closeCh is closed exactly once, by Close, to unblock any Writer
	// waiting on a send window that will now never open.
	closeCh chan struct{}
}

// NewConn returns a new HTTP/2 connection. Call Handshake before using it.
func NewConn(c net.Conn, opts ConnOpts) *Conn {
	maxHeaderListSize := opts.MaxHeaderListSize
	if maxHeaderListSize == 0 {
		maxHeaderListSize = defaultMaxHeaderListSize
	}

	// clientInitialWindowSize is the receive window this client
	// advertises for the connection as a whole, bumped up from the
	// RFC 7540 section 6.9.2 default of 65535 by the WINDOW_UPDATE
	// Handshake sends right after the client SETTINGS frame. The send
	// side starts at the RFC default and stays there until the peer's
	// own WINDOW_UPDATE(stream=0) says otherwise: unlike per-stream
	// windows, the connection window is never affected by SETTINGS.
	const clientInitialWindowSize = 1 << 20

	nc := &Conn{
		c:                 c,
		br:                bufio.NewReaderSize(c, 4096),
		bw:                bufio.NewWriterSize(c, defaultMaxFrameSize),
		enc:               AcquireHPACK(),
		dec:               AcquireHPACK(),
		nextID:            1,
		flow:              newConnFlow(defaultInitialWindowSize, clientInitialWindowSize),
		maxHeaderListSize: maxHeaderListSize,
		in:                make(chan *Ctx, outboundQueueSize),
		out:               make(chan *FrameHeader, outboundQueueSize),
		frames:            make(chan *FrameHeader, inboundQueueSize),
		pingInterval:      opts.PingInterval,
		disableAcks:       opts.DisablePingChecking,
		onDisconnect:      opts.OnDisconnect,
		flowUpdated:       make(chan struct{}, 1),
		closeCh:           make(chan struct{}),
	}

	nc.dec.SetMaxHeaderListSize(int(maxHeaderListSize))

	nc.local.SetMaxWindowSize(clientInitialWindowSize)
	nc.local.SetPush(false)
	nc.local.SetMaxHeaderListSize(maxHeaderListSize)

	return nc
}

// Dialer allows creating HTTP/2 connections given an address and TLS config.
type Dialer struct {
	// Addr is the server's address in the form: `host:port`.
	Addr string

	// TLSConfig is the tls configuration.
	//
	// If TLSConfig is nil, a default one is set on Dial.
	TLSConfig *tls.Config

	// PingInterval defines the interval in which the client pings the server.
	PingInterval time.Duration
}

func (d *Dialer) tryDial() (net.Conn, error) {
	hasALPN := d.TLSConfig != nil
	if hasALPN {
		hasALPN = false
		for _, proto := range d.TLSConfig.NextProtos {
			if proto == H2TLSProto {
				hasALPN = true
				break
			}
		}
	}

	if !hasALPN {
		configureDialer(d)
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", d.Addr)
	if err != nil {
		return nil, err
	}

	c, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(c, d.TLSConfig)

	if err := tlsConn.Handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol != H2TLSProto {
		_ = c.Close()
		return nil, ErrServerSupport
	}

	return tlsConn, nil
}

// Dial creates an HTTP/2 connection or returns an error.
//
// An expected error is ErrServerSupport.
func (d *Dialer) Dial(opts ConnOpts) (*Conn, error) {
	c, err := d.tryDial()
	if err != nil {
		return nil, err
	}

	if opts.PingInterval == 0 {
		opts.PingInterval = d.PingInterval
	}

	nc := NewConn(c, opts)

	err = nc.Handshake()

	return nc, err
}

// SetOnDisconnect sets the callback fired when the connection closes.
func (c *Conn) SetOnDisconnect(cb func(*Conn)) {
	c.onDisconnect = cb
}

// LastErr returns the last registered error, set once the connection
// has been closed by the peer or by a protocol violation.
func (c *Conn) LastErr() error {
	return c.lastErr
}

// Stats reports a snapshot of the connection's current load, useful
// for pool balancing and observability.
type Stats struct {
	OpenStreams  int32
	SendWindow   int32
	RecvWindow   int32
	NextStreamID uint32
}

// Stats returns a snapshot of the connection's current state. It is
// safe to call from any goroutine: it only reads counters through
// atomic loads.
func (c *Conn) Stats() Stats {
	return Stats{
		OpenStreams:  atomic.LoadInt32(&c.openStreams),
		SendWindow:   c.flow.Send(),
		RecvWindow:   atomic.LoadInt32(&c.flow.recv),
		NextStreamID: atomic.LoadUint32(&c.nextID),
	}
}

// Handshake performs the handshake necessary to establish the
// connection with the server. If an error is returned the TCP
// connection has already been closed.
func (c *Conn) Handshake() error {
	if err := Handshake(true, c.bw, &c.local, int32(c.local.MaxWindowSize())-defaultInitialWindowSize); err != nil {
		_ = c.c.Close()
		return err
	}

	fr, err := ReadFrameFrom(c.br)
	if err != nil {
		_ = c.c.Close()
		return err
	}

	if fr.Type() != FrameSettings {
		_ = c.c.Close()
		return fmt.Errorf("http2: unexpected first frame, expected settings, got %s", fr.Type())
	}

	st := fr.Body().(*Settings)
	if !st.IsAck() {
		c.applyRemoteSettings(st)

		ack := AcquireFrameHeader()
		stRes := AcquireFrame(FrameSettings).(*Settings)
		stRes.SetAck(true)
		ack.SetBody(stRes)

		if _, err = ack.WriteTo(c.bw); err == nil {
			err = c.bw.Flush()
		}

		ReleaseFrameHeader(ack)
	}

	ReleaseFrameHeader(fr)

	if err != nil {
		_ = c.Close()
		return err
	}

	go c.readLoop()
	go c.dispatchLoop()
	go c.writeLoop()

	return nil
}

// CanOpenStream returns whether a new stream may be opened right now.
func (c *Conn) CanOpenStream() bool {
	if atomic.LoadUint64(&c.goAway) == 1 {
		return false
	}

	max := c.remote.MaxConcurrentStreams()
	if max == 0 {
		return true
	}

	return atomic.LoadInt32(&c.openStreams) < int32(max)
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	return atomic.LoadUint64(&c.closed) == 1
}

// Close closes the connection gracefully, sending GOAWAY before
// closing the underlying TCP connection.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint64(&c.closed, 0, 1) {
		return io.EOF
	}

	close(c.in)
	close(c.closeCh)

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	code := NoError
	var ce *ConnError
	if errors.As(c.lastErr, &ce) {
		code = ce.Code
	}

	// The last stream id we claim to have processed is the highest
	// client-initiated stream this connection has actually opened, not
	// the next one it would use.
	var lastID uint32
	if next := atomic.LoadUint32(&c.nextID); next > 1 {
		lastID = next - 2
	}

	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(lastID)
	ga.SetCode(code)

	fr.SetBody(ga)

	_, err := fr.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
	}

	_ = c.c.Close()

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}

	return err
}

// Write queues the request to be sent to the server.
//
// Check whether `c` is closed before calling this, since it panics
// when sending on a closed channel.
func (c *Conn) Write(r *Ctx) {
	c.in <- r
}

// WriteError wraps an error encountered while writing to the
// underlying connection, keeping the original cause reachable via
// errors.Is/errors.As.
type WriteError struct {
	err error
}

func (we WriteError) Error() string {
	return fmt.Sprintf("http2: write error: %s", we.err)
}

func (we WriteError) Unwrap() error {
	return we.err
}

func (we WriteError) Is(target error) bool {
	return errors.Is(we.err, target)
}

func (we WriteError) As(target interface{}) bool {
	return errors.As(we.err, target)
}

// writeLoop is the connection's sole writer goroutine: it drains new
// requests (c.in), control frames queued by the Dispatcher (c.out),
// and issues periodic PINGs.
func (c *Conn) writeLoop() {
	defer func() { _ = c.Close() }()

	if c.pingInterval <= 0 {
		c.pingInterval = DefaultPingInterval
	}

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	var lastErr error

loop:
	for {
		select {
		case r, ok := <-c.in:
			if !ok {
				break loop
			}

			if err := c.writeRequest(r); err != nil {
				r.Err <- err
				close(r.Err)

				if errors.Is(err, ErrNotAvailableStreams) {
					continue
				}

				lastErr = WriteError{err}
				break loop
			}
		case fr, ok := <-c.out:
			if !ok {
				break loop
			}

			if _, err := fr.WriteTo(c.bw); err == nil {
				if err = c.bw.Flush(); err != nil {
					lastErr = WriteError{err}
					break loop
				}
			} else {
				lastErr = WriteError{err}
				break loop
			}

			ReleaseFrameHeader(fr)
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				lastErr = WriteError{err}
				break loop
			}
		}

		if !c.disableAcks && atomic.LoadInt32(&c.unacks) >= 3 {
			lastErr = ErrTimeout
			break loop
		}
	}

	if lastErr == nil {
		lastErr = io.EOF
	}

	c.lastErr = lastErr
}

// readLoop is the connection's sole reader goroutine: it only
// deserializes frames off the wire and forwards them to the
// Dispatcher; it never mutates connection state itself.
func (c *Conn) readLoop() {
	defer close(c.frames)

	for {
		fr, err := ReadFrameFromWithSize(c.br, c.local.MaxFrameSize())
		if err != nil {
			c.lastErr = err
			return
		}

		c.frames <- fr
	}
}

// dispatchLoop is the connection's single owner of protocol state: the
// stream table, both HPACK contexts, and the flow-control windows. It
// consumes decoded frames from the Reader and reacts by queuing
// control frames (c.out) for the Writer or finishing streams.
func (c *Conn) dispatchLoop() {
	defer func() { _ = c.Close() }()

	for fr := range c.frames {
		err := c.dispatch(fr)
		ReleaseFrameHeader(fr)

		if err != nil {
			c.lastErr = err

			var ce *ConnError
			if errors.As(err, &ce) {
				break
			}
		}
	}

	finalErr := c.lastErr
	if finalErr == nil {
		finalErr = ErrConnClosed
	}

	c.streams.Range(func(s *Stream) {
		s.finish(finalErr)
	})
}

// errHeaderBlockInterleaved is returned when a frame other than the
// pending CONTINUATION is observed while a header block is still open.
var errHeaderBlockInterleaved = NewError(ProtocolError, "frame interleaved within an open header block")

func (c *Conn) dispatch(fr *FrameHeader) error {
	if pending := c.headerBlockStreamID; pending != 0 {
		if fr.Type() != FrameContinuation || fr.Stream() != pending {
			return errHeaderBlockInterleaved
		}
	}

	if fr.Stream() == 0 {
		return c.dispatchConnFrame(fr)
	}

	return c.dispatchStreamFrame(fr)
}

func (c *Conn) dispatchConnFrame(fr *FrameHeader) error {
	switch fr.Type() {
	case FrameSettings:
		st := fr.Body().(*Settings)
		if st.IsAck() {
			return nil
		}

		c.applyRemoteSettings(st)

		ack := AcquireFrameHeader()
		stRes := AcquireFrame(FrameSettings).(*Settings)
		stRes.SetAck(true)
		ack.SetBody(stRes)

		c.out <- ack

	case FrameWindowUpdate:
		wu := fr.Body().(*WindowUpdate)
		c.flow.IncrSend(int32(wu.Increment()))
		c.notifyFlowUpdate()

	case FramePing:
		ping := fr.Body().(*Ping)
		if ping.ack {
			atomic.AddInt32(&c.unacks, -1)
		} else {
			c.handlePing(ping)
		}

	case FrameGoAway:
		return c.handleGoAway(fr.Body().(*GoAway))
	}

	return nil
}

// handleGoAway puts the connection in draining mode per RFC 7540
// section 6.8: CanOpenStream starts refusing new streams, any stream
// above last_stream_id the peer never saw is failed retryable, and
// every stream at or below it is left alone to finish normally. A
// non-NO_ERROR code means the peer is tearing the connection down for
// cause, so the whole connection becomes fatal immediately instead of
// waiting for the remaining streams to drain.
func (c *Conn) handleGoAway(ga *GoAway) error {
	lastID := ga.Stream()

	atomic.StoreUint64(&c.goAway, 1)
	c.goAwayID = lastID

	var orphaned []*Stream
	c.streams.Range(func(s *Stream) {
		if s.id > lastID {
			orphaned = append(orphaned, s)
		}
	})

	for _, s := range orphaned {
		// The peer never saw these streams, regardless of the GOAWAY's
		// own error code, so they're refused rather than whatever
		// `ga.Code()` says about the connection as a whole.
		c.finishStream(s, NewRetryableStreamError(s.id, RefusedStreamError))
	}

	if ga.Code() != NoError {
		return NewError(ga.Code(), "received GOAWAY")
	}

	return c.checkDrainComplete()
}

// checkDrainComplete reports a graceful ConnError once the connection
// has received a NO_ERROR GOAWAY and the last stream it allowed to
// finish has actually finished; dispatchLoop treats any ConnError as
// the signal to stop reading and close.
func (c *Conn) checkDrainComplete() error {
	if atomic.LoadUint64(&c.goAway) == 1 && atomic.LoadInt32(&c.openStreams) == 0 {
		return NewGracefulError("drained: peer's last accepted stream completed")
	}

	return nil
}

func (c *Conn) dispatchStreamFrame(fr *FrameHeader) error {
	s := c.streams.Get(fr.Stream())
	if s == nil {
		return nil // stream already finished/unknown; ignore per RFC 7540 5.1
	}

	switch fr.Type() {
	case FrameHeaders, FrameContinuation:
		h := fr.Body().(FrameWithHeaders)
		s.rawHeaders = append(s.rawHeaders, h.Headers()...)

		endHeaders := false
		if hh, ok := fr.Body().(*Headers); ok {
			endHeaders = hh.EndHeaders()
		} else if cc, ok := fr.Body().(*Continuation); ok {
			endHeaders = cc.EndHeaders()
		}

		if endHeaders {
			c.headerBlockStreamID = 0

			// A decode failure here leaves the shared HPACK dynamic
			// table in an indeterminate state for the rest of the
			// connection, so this must tear down the connection
			// (GOAWAY) rather than just reset the one stream.
			if err := c.readHeaderBlock(s.rawHeaders, s.res); err != nil {
				return NewError(CompressionError, err.Error())
			}

			s.rawHeaders = s.rawHeaders[:0]
		} else {
			c.headerBlockStreamID = fr.Stream()
		}

		if hh, ok := fr.Body().(*Headers); ok && hh.EndStream() {
			_ = s.transition(eventRecvEndStream)
			c.finishStream(s, nil)
		}

	case FrameData:
		data := fr.Body().(*Data)

		n := int32(data.Len())
		s.ConsumeRecvWindow(n)
		c.flow.ConsumeRecv(n)

		if n != 0 {
			s.res.Res.AppendBody(data.Data())

			if inc, ok := shouldReplenish(s.RecvWindow(), int32(c.local.MaxWindowSize())); ok {
				s.ReplenishRecvWindow(inc)
				c.sendWindowUpdate(s.id, inc)
			}
		}

		if connInc, ok := shouldReplenish(c.flow.recv, int32(c.local.MaxWindowSize())); ok {
			c.flow.ReplenishRecv(connInc)
			c.sendWindowUpdate(0, connInc)
		}

		if data.EndStream() {
			_ = s.transition(eventRecvEndStream)
			c.finishStream(s, nil)
		}

	case FrameWindowUpdate:
		wu := fr.Body().(*WindowUpdate)
		s.IncrSendWindow(int32(wu.Increment()))
		c.notifyFlowUpdate()

	case FrameResetStream:
		rst := fr.Body().(*RstStream)
		_ = s.transition(eventRecvReset)

		serr := NewStreamError(s.id, rst.Code())
		if rst.Code() == RefusedStreamError {
			// The peer is telling us it never acted on this stream,
			// so it's safe to retry in full elsewhere.
			serr = NewRetryableStreamError(s.id, rst.Code())
		}
		c.finishStream(s, serr)

		// A peer that resets streams fast enough to be a rapid-reset
		// attack (CVE-2023-44487) gets the connection pulled instead
		// of being allowed to keep burning CPU on stream churn.
		if c.resets.record(time.Now()) {
			return NewError(EnhanceYourCalm, "too many stream resets from peer")
		}

	case FramePushPromise:
		if !c.local.Push() {
			return NewError(ProtocolError, "PUSH_PROMISE received with SETTINGS_ENABLE_PUSH=0")
		}

		pp := fr.Body().(*PushPromise)
		c.refusePush(pp.Stream())
	}

	return c.checkDrainComplete()
}

// refusePush rejects a server push this client never asked for: server push
// is accepted at the protocol level but ignored, so every promised stream is
// immediately refused.
func (c *Conn) refusePush(promisedID uint32) {
	rfr := AcquireFrameHeader()
	rfr.SetStream(promisedID)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(RefusedStreamError)
	rfr.SetBody(rst)

	c.out <- rfr
}

func (c *Conn) finishStream(s *Stream, err error) {
	atomic.AddInt32(&c.openStreams, -1)
	c.streams.Del(s.id)
	s.finish(err)
}

func (c *Conn) resetStream(s *Stream, code ErrorCode, cause error) error {
	fr := AcquireFrameHeader()
	fr.SetStream(s.id)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)
	fr.SetBody(rst)

	c.out <- fr

	if c.resets.record(time.Now()) {
		return NewError(EnhanceYourCalm, "too many resets")
	}

	c.finishStream(s, cause)

	return nil
}

func (c *Conn) writeRequest(r *Ctx) error {
	if !c.CanOpenStream() {
		return ErrNotAvailableStreams
	}

	req := r.Request.Req
	hasBody := len(req.Body()) != 0

	// nextID is only ever mutated here, from the Writer goroutine; the
	// atomic load/store pair just keeps concurrent Stats() calls safe.
	id := atomic.LoadUint32(&c.nextID)
	atomic.StoreUint32(&c.nextID, id+2)

	stream := NewStream(id, int32(c.remote.MaxWindowSize()), int32(c.local.MaxWindowSize()))
	stream.res = r.Response
	stream.done = r.Err
	_ = stream.transition(eventSendHeaders) // Idle -> Open; always legal on a fresh stream
	c.streams.Insert(stream)

	r.Request.StreamID = id

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	fr.SetStream(id)

	h := AcquireFrame(FrameHeaders).(*Headers)
	fr.SetBody(h)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetBytes(StringAuthority, req.URI().Host())
	c.enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringMethod, req.Header.Method())
	c.enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringPath, req.URI().RequestURI())
	c.enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringScheme, req.URI().Scheme())
	c.enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringUserAgent, req.Header.UserAgent())
	c.enc.AppendHeaderField(h, hf, true)

	req.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, StringUserAgent) {
			return
		}

		hf.SetBytes(ToLower(append([]byte(nil), k...)), v)
		c.enc.AppendHeaderField(h, hf, false)
	})

	h.SetPadding(false)
	h.SetEndStream(!hasBody)
	h.SetEndHeaders(true)

	_, err := fr.WriteTo(c.bw)
	if err == nil && hasBody {
		ReleaseFrame(h)
		err = c.writeData(fr, stream, req.Body())
	}

	if err == nil {
		// Open -> HalfClosedLocal: END_STREAM has now gone out, either on
		// this HEADERS frame (no body) or on the final DATA frame above.
		_ = stream.transition(eventSendEndStream)
	}

	if err == nil {
		err = c.bw.Flush()
		if err == nil {
			atomic.AddInt32(&c.openStreams, 1)
		}
	}

	if err != nil {
		c.lastErr = err
		// writeLoop closes r.Err on this path; drop the stream so that
		// nothing finishes it a second time.
		c.streams.Del(id)
	}

	return err
}

// writeData emits body as a sequence of DATA frames, chunked to the
// smallest of the default 16384-octet max frame size, the stream's send window,
// and the connection's send window (RFC 7540 section 6.9's
// "Consumption" rule), blocking via awaitSendWindow whenever either
// window is exhausted until a WINDOW_UPDATE or SETTINGS change reopens
// it.
func (c *Conn) writeData(fh *FrameHeader, stream *Stream, body []byte) error {
	data := AcquireFrame(FrameData).(*Data)
	fh.SetBody(data)

	if len(body) == 0 {
		data.SetEndStream(true)
		data.SetPadding(false)
		data.SetData(nil)
		_, err := fh.WriteTo(c.bw)
		return err
	}

	for i := 0; i < len(body); {
		n, err := c.awaitSendWindow(stream, len(body)-i)
		if err != nil {
			return err
		}

		end := i + n

		data.SetEndStream(end == len(body))
		data.SetPadding(false)
		data.SetData(body[i:end])

		if _, err := fh.WriteTo(c.bw); err != nil {
			return err
		}

		stream.ConsumeSendWindow(int32(n))
		c.flow.ConsumeSend(int32(n))

		i = end
	}

	return nil
}

// awaitSendWindow blocks until at least one byte (and at most `want`,
// capped to the default 16384-octet max frame size) may be sent without
// exceeding either the stream's or the connection's send window,
// returning how many bytes are clear to send. It wakes on any
// WINDOW_UPDATE or SETTINGS-driven window change and gives up if the
// connection closes first.
func (c *Conn) awaitSendWindow(stream *Stream, want int) (int, error) {
	if want > defaultMaxFrameSize {
		want = defaultMaxFrameSize
	}

	for {
		avail := want
		if connWin := int(c.flow.Send()); connWin < avail {
			avail = connWin
		}
		if streamWin := int(stream.SendWindow()); streamWin < avail {
			avail = streamWin
		}

		if avail > 0 {
			return avail, nil
		}

		// Hand the frames already buffered to the peer before blocking:
		// it may be waiting for them before it sends a WINDOW_UPDATE.
		if err := c.bw.Flush(); err != nil {
			return 0, err
		}

		select {
		case <-c.flowUpdated:
		case <-c.closeCh:
			return 0, ErrConnClosed
		}
	}
}

func (c *Conn) writePing() error {
	fr := AcquireFrameHeader()

	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetData([]byte(strconv.FormatInt(time.Now().UnixNano(), 16)))

	fr.SetBody(ping)

	_, err := fr.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
		if err == nil {
			atomic.AddInt32(&c.unacks, 1)
		}
	}

	return err
}

func (c *Conn) applyRemoteSettings(st *Settings) {
	prevWindow := int32(c.remote.MaxWindowSize())

	st.CopyTo(&c.remote)

	if st.HeaderTableSize() <= defaultHeaderTableSize {
		c.enc.SetMaxTableSize(int(st.HeaderTableSize()))
	}

	if delta := int32(c.remote.MaxWindowSize()) - prevWindow; delta != 0 {
		redistributeSettingsDelta(&c.streams, delta)
		c.notifyFlowUpdate()
	}
}

// notifyFlowUpdate wakes a Writer blocked in awaitSendWindow. It's a
// best-effort kick, not an exact count: the waiter always re-reads the
// live windows, so a dropped or coalesced signal only costs a spurious
// wait, never a missed update.
func (c *Conn) notifyFlowUpdate() {
	select {
	case c.flowUpdated <- struct{}{}:
	default:
	}
}

func (c *Conn) handlePing(ping *Ping) {
	fr := AcquireFrameHeader()
	ping.ack = true
	fr.SetBody(ping)
	c.out <- fr
}

func (c *Conn) sendWindowUpdate(streamID uint32, size int32) {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(int(size))

	fr.SetBody(wu)

	c.out <- fr
}

func (c *Conn) readHeaderBlock(b []byte, res *Response) error {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	dec := c.dec

	var fields, size int
	var sawRegular, sawStatus bool

	for len(b) > 0 {
		var err error
		b, err = dec.Next(hf, b)
		if err != nil {
			return err
		}

		fields++
		if fields > dec.maxHeaderFields {
			return ErrTooManyHeaders
		}

		size += hf.Size()
		if size > dec.maxHeaderListLen {
			return ErrHeaderListTooLarge
		}

		if hf.IsPseudo() {
			if sawRegular {
				return ErrPseudoHeaderOrder
			}

			if len(hf.KeyBytes()) > 1 && hf.KeyBytes()[1] == 's' { // :status
				if sawStatus {
					return ErrPseudoHeaderOrder
				}
				sawStatus = true

				n, err := strconv.ParseInt(hf.Value(), 10, 64)
				if err != nil {
					return err
				}

				res.Res.SetStatusCode(int(n))
			}

			continue
		}

		sawRegular = true

		if bytes.Equal(hf.KeyBytes(), StringContentLength) {
			n, _ := strconv.Atoi(hf.Value())
			res.Res.Header.SetContentLength(n)
		} else {
			res.Res.Header.AddBytesKV(hf.KeyBytes(), hf.ValueBytes())
		}
	}

	return nil
}
