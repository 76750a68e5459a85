package http2

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// This file carries the end-to-end scenarios from spec.md section 8
// (S1-S6), each driven against an in-process net.Pipe peer the way
// TestConnHandshakeAndRoundTrip in conn_test.go drives its own single
// scenario. The helpers below return plain errors rather than taking
// a *testing.T, since every one of them runs on a fake-peer goroutine
// rather than the test goroutine itself, and only the test goroutine
// may call into testify's require.

// readHandshake drains the client's preface, SETTINGS and connection
// WINDOW_UPDATE, answers with an empty SETTINGS frame, and drains the
// client's SETTINGS ack — the same sequence conn_test.go's fakeServer
// performs inline.
func readHandshake(br *bufio.Reader, bw *bufio.Writer) error {
	preface := make([]byte, len(Preface))
	if _, err := io.ReadFull(br, preface); err != nil {
		return err
	}

	fr, err := ReadFrameFrom(br) // client SETTINGS
	if err != nil {
		return err
	}
	if fr.Type() != FrameSettings {
		return fmt.Errorf("expected client SETTINGS, got %s", fr.Type())
	}
	ReleaseFrameHeader(fr)

	fr, err = ReadFrameFrom(br) // client connection WINDOW_UPDATE
	if err != nil {
		return err
	}
	if fr.Type() != FrameWindowUpdate {
		return fmt.Errorf("expected client WINDOW_UPDATE, got %s", fr.Type())
	}
	ReleaseFrameHeader(fr)

	stFr := AcquireFrameHeader()
	st := AcquireFrame(FrameSettings).(*Settings)
	stFr.SetBody(st)
	if _, err := stFr.WriteTo(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	fr, err = ReadFrameFrom(br) // client SETTINGS ack
	if err != nil {
		return err
	}
	if !fr.Body().(*Settings).IsAck() {
		return errors.New("expected client SETTINGS ack")
	}
	ReleaseFrameHeader(fr)

	return nil
}

func writeWindowUpdate(bw *bufio.Writer, streamID uint32, inc int) error {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(inc)
	fr.SetBody(wu)

	if _, err := fr.WriteTo(bw); err != nil {
		return err
	}
	ReleaseFrameHeader(fr)
	return bw.Flush()
}

func writeGoAway(bw *bufio.Writer, lastStreamID uint32, code ErrorCode) error {
	fr := AcquireFrameHeader()
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(lastStreamID)
	ga.SetCode(code)
	fr.SetBody(ga)

	if _, err := fr.WriteTo(bw); err != nil {
		return err
	}
	ReleaseFrameHeader(fr)
	return bw.Flush()
}

func writeRstStream(bw *bufio.Writer, streamID uint32, code ErrorCode) error {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)
	fr.SetBody(rst)

	if _, err := fr.WriteTo(bw); err != nil {
		return err
	}
	ReleaseFrameHeader(fr)
	return bw.Flush()
}

// writeSimpleResponse answers streamID with a 200 and a short body,
// END_STREAM on the trailing DATA frame.
func writeSimpleResponse(bw *bufio.Writer, streamID uint32) error {
	enc := AcquireHPACK()
	defer ReleaseHPACK(enc)

	rfr := AcquireFrameHeader()
	rfr.SetStream(streamID)

	rh := AcquireFrame(FrameHeaders).(*Headers)

	hf := AcquireHeaderField()
	hf.SetBytes(StringStatus, []byte("200"))
	enc.AppendHeaderField(rh, hf, true)
	ReleaseHeaderField(hf)

	rh.SetEndHeaders(true)
	rh.SetEndStream(false)
	rfr.SetBody(rh)

	if _, err := rfr.WriteTo(bw); err != nil {
		return err
	}

	dfr := AcquireFrameHeader()
	dfr.SetStream(streamID)

	d := AcquireFrame(FrameData).(*Data)
	d.SetData([]byte("ok"))
	d.SetEndStream(true)
	dfr.SetBody(d)

	if _, err := dfr.WriteTo(bw); err != nil {
		return err
	}
	return bw.Flush()
}

func waitClosed(t *testing.T, c *Conn) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !c.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for connection to close")
		}
		time.Sleep(time.Millisecond)
	}
}

// S1: preface handshake leaves the connection open with a fresh
// client-initiated stream space.
func TestIntegrationPrefaceHandshake(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	errc := make(chan error, 1)
	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		errc <- readHandshake(br, bw)
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())
	defer c.Close()

	require.NoError(t, <-errc)
	require.False(t, c.Closed())
	require.Equal(t, uint32(1), c.Stats().NextStreamID)
}

// S2: a header-only GET (one HEADERS frame with END_HEADERS|END_STREAM)
// round-trips a 200 response.
func TestIntegrationMinimalGet(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	errc := make(chan error, 1)

	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		if err := readHandshake(br, bw); err != nil {
			errc <- err
			return
		}

		fr, err := ReadFrameFrom(br)
		if err != nil {
			errc <- err
			return
		}
		h := fr.Body().(*Headers)
		id := fr.Stream()
		if !h.EndStream() || !h.EndHeaders() {
			errc <- errors.New("expected END_HEADERS|END_STREAM on the request HEADERS")
			return
		}
		ReleaseFrameHeader(fr)

		errc <- writeSimpleResponse(bw, id)
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())
	defer c.Close()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod("GET")
	req.SetRequestURI("https://example.com/")

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	ctx := AcquireCtx(&Request{Req: req}, &Response{Res: res})
	c.Write(ctx)

	select {
	case err := <-ctx.Err:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	require.NoError(t, <-errc)
	require.Equal(t, 200, res.StatusCode())
}

// S3: a POST body larger than the peer's initial window is chunked to
// the window, blocks, and resumes once WINDOW_UPDATE reopens it.
func TestIntegrationFlowControlledPost(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	errc := make(chan error, 1)

	const bodySize = 100000
	const initialWindow = 65535

	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		if err := readHandshake(br, bw); err != nil {
			errc <- err
			return
		}

		fr, err := ReadFrameFrom(br) // request HEADERS
		if err != nil {
			errc <- err
			return
		}
		id := fr.Stream()
		ReleaseFrameHeader(fr)

		total := 0
		replenished := false
		for {
			fr, err := ReadFrameFrom(br)
			if err != nil {
				errc <- err
				return
			}
			d, ok := fr.Body().(*Data)
			if !ok {
				errc <- errors.New("expected DATA frame")
				return
			}
			total += d.Len()
			end := d.EndStream()
			ReleaseFrameHeader(fr)

			if !replenished && total == initialWindow {
				replenished = true
				if err := writeWindowUpdate(bw, id, bodySize-initialWindow); err != nil {
					errc <- err
					return
				}
				if err := writeWindowUpdate(bw, 0, bodySize-initialWindow); err != nil {
					errc <- err
					return
				}
			}

			if end {
				break
			}
		}

		if total != bodySize {
			errc <- fmt.Errorf("received %d bytes, want %d", total, bodySize)
			return
		}

		errc <- writeSimpleResponse(bw, id)
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())
	defer c.Close()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod("POST")
	req.SetRequestURI("https://example.com/upload")
	req.SetBody(make([]byte, bodySize))

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	ctx := AcquireCtx(&Request{Req: req}, &Response{Res: res})
	c.Write(ctx)

	select {
	case err := <-ctx.Err:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response; Writer likely never resumed after the window closed")
	}

	require.NoError(t, <-errc)
	require.Equal(t, 200, res.StatusCode())
}

// S4: a peer-initiated GOAWAY lets the stream it already accepted
// finish normally, fails the stream opened above it with a retryable
// error, and closes the connection only once the accepted stream ends.
func TestIntegrationGoAwayMidFlight(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	errc := make(chan error, 1)

	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		if err := readHandshake(br, bw); err != nil {
			errc <- err
			return
		}

		fr1, err := ReadFrameFrom(br) // HEADERS, stream 1
		if err != nil {
			errc <- err
			return
		}
		id1 := fr1.Stream()
		ReleaseFrameHeader(fr1)

		fr2, err := ReadFrameFrom(br) // HEADERS, stream 3
		if err != nil {
			errc <- err
			return
		}
		ReleaseFrameHeader(fr2)

		if err := writeGoAway(bw, id1, NoError); err != nil {
			errc <- err
			return
		}
		errc <- writeSimpleResponse(bw, id1)
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())

	req1 := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req1)
	req1.Header.SetMethod("GET")
	req1.SetRequestURI("https://example.com/first")
	res1 := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res1)
	ctx1 := AcquireCtx(&Request{Req: req1}, &Response{Res: res1})

	req2 := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req2)
	req2.Header.SetMethod("GET")
	req2.SetRequestURI("https://example.com/second")
	res2 := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res2)
	ctx2 := AcquireCtx(&Request{Req: req2}, &Response{Res: res2})

	c.Write(ctx1)
	c.Write(ctx2)

	select {
	case err := <-ctx1.Err:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream 1 to finish")
	}
	require.Equal(t, 200, res1.StatusCode())

	select {
	case err := <-ctx2.Err:
		require.Error(t, err)
		var se *StreamError
		require.ErrorAs(t, err, &se)
		require.True(t, se.Retryable(), "stream above last_stream_id must fail retryable")
		require.Equal(t, RefusedStreamError, se.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream 3 to be refused")
	}

	require.NoError(t, <-errc)
	waitClosed(t, c)

	var ce *ConnError
	require.ErrorAs(t, c.LastErr(), &ce)
	require.Equal(t, NoError, ce.Code)
	require.True(t, ce.Retryable())
}

// S5: a frame other than the pending CONTINUATION while a header block
// is still open is a connection error.
func TestIntegrationInvalidContinuationInterleave(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	errc := make(chan error, 1)

	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		if err := readHandshake(br, bw); err != nil {
			errc <- err
			return
		}

		fr, err := ReadFrameFrom(br) // request HEADERS
		if err != nil {
			errc <- err
			return
		}
		id := fr.Stream()
		ReleaseFrameHeader(fr)

		enc := AcquireHPACK()
		defer ReleaseHPACK(enc)

		hfr := AcquireFrameHeader()
		hfr.SetStream(id)
		h := AcquireFrame(FrameHeaders).(*Headers)
		hf := AcquireHeaderField()
		hf.SetBytes(StringStatus, []byte("200"))
		enc.AppendHeaderField(h, hf, true)
		ReleaseHeaderField(hf)
		h.SetEndHeaders(false) // CONTINUATION is expected next, not DATA
		h.SetEndStream(false)
		hfr.SetBody(h)
		if _, err := hfr.WriteTo(bw); err != nil {
			errc <- err
			return
		}
		if err := bw.Flush(); err != nil {
			errc <- err
			return
		}

		dfr := AcquireFrameHeader()
		dfr.SetStream(id)
		d := AcquireFrame(FrameData).(*Data)
		d.SetData([]byte("x"))
		d.SetEndStream(true)
		dfr.SetBody(d)
		if _, err := dfr.WriteTo(bw); err != nil {
			errc <- err
			return
		}
		if err := bw.Flush(); err != nil {
			errc <- err
			return
		}

		gfr, err := ReadFrameFrom(br)
		if err != nil {
			errc <- err
			return
		}
		ga, ok := gfr.Body().(*GoAway)
		if !ok {
			errc <- errors.New("expected a GOAWAY frame")
			return
		}
		if ga.Code() != ProtocolError {
			errc <- errors.New("expected GOAWAY(PROTOCOL_ERROR)")
			return
		}
		ReleaseFrameHeader(gfr)

		errc <- nil
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod("GET")
	req.SetRequestURI("https://example.com/")
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)
	ctx := AcquireCtx(&Request{Req: req}, &Response{Res: res})

	c.Write(ctx)

	select {
	case err := <-ctx.Err:
		require.Error(t, err)
		var ce *ConnError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, ProtocolError, ce.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the awaiter to fail")
	}

	require.NoError(t, <-errc)
	waitClosed(t, c)
}

// S6: a peer that resets streams fast enough to look like a rapid
// reset attack gets the connection pulled with GOAWAY(ENHANCE_YOUR_CALM).
func TestIntegrationRapidResetMitigation(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	const attempts = rapidResetMaxCancels + 1

	go func() {
		defer serverSide.Close()

		br := bufio.NewReader(serverSide)
		bw := bufio.NewWriter(serverSide)
		if err := readHandshake(br, bw); err != nil {
			return
		}

		for i := 0; i < attempts; i++ {
			fr, err := ReadFrameFrom(br)
			if err != nil {
				return
			}
			id := fr.Stream()
			ReleaseFrameHeader(fr)

			if err := writeRstStream(bw, id, CancelError); err != nil {
				return
			}
		}
	}()

	c := NewConn(clientSide, ConnOpts{PingInterval: time.Hour})
	require.NoError(t, c.Handshake())

	ctxs := make([]*Ctx, attempts)
	for i := 0; i < attempts; i++ {
		req := fasthttp.AcquireRequest()
		req.Header.SetMethod("GET")
		req.SetRequestURI("https://example.com/churn")

		res := fasthttp.AcquireResponse()
		ctxs[i] = AcquireCtx(&Request{Req: req}, &Response{Res: res})
		c.Write(ctxs[i])
	}

	waitClosed(t, c)

	var ce *ConnError
	require.ErrorAs(t, c.LastErr(), &ce)
	require.Equal(t, EnhanceYourCalm, ce.Code)
}
