package http2

import (
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Client multiplexes fasthttp requests over a small pool of HTTP/2
// connections to a single host, dialing lazily and replacing
// connections as they're closed by the peer or by protocol errors.
type Client struct {
	dialer *Dialer

	mu    sync.Mutex
	conns []*Conn

	// MaxConns bounds how many concurrent connections the client keeps
	// open to the host. A request only waits for a new dial when every
	// existing connection has exhausted CanOpenStream.
	MaxConns int

	onRTT func(time.Duration)

	connOpts ConnOpts

	// EnableCompression, when set, decodes a gzip/deflate/brotli
	// Content-Encoding response body in place before returning from Do.
	EnableCompression bool
}

const defaultMaxConns = 1

// createClient builds a Client that dials through d.
func createClient(d *Dialer) *Client {
	return &Client{
		dialer:   d,
		MaxConns: defaultMaxConns,
	}
}

// conn returns a connection with spare stream capacity, dialing a new
// one if every existing connection (up to MaxConns) is saturated or
// closed.
func (cl *Client) conn() (*Conn, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for i := 0; i < len(cl.conns); {
		c := cl.conns[i]
		if c.Closed() {
			cl.conns = append(cl.conns[:i], cl.conns[i+1:]...)
			continue
		}

		if c.CanOpenStream() {
			return c, nil
		}

		i++
	}

	if len(cl.conns) >= cl.MaxConns {
		return cl.conns[0], nil
	}

	c, err := cl.dialer.Dial(cl.connOpts)
	if err != nil {
		return nil, err
	}

	cl.conns = append(cl.conns, c)

	return c, nil
}

// Do implements fasthttp.RoundTripper, letting ConfigureClient install
// this Client as a fasthttp.HostClient's Transport.
func (cl *Client) Do(hc *fasthttp.HostClient, req *fasthttp.Request, res *fasthttp.Response) (bool, error) {
	c, err := cl.conn()
	if err != nil {
		return false, err
	}

	ctx := AcquireCtx(&Request{Req: req}, &Response{Res: res})

	c.Write(ctx)

	err = <-ctx.Err

	if err == nil && cl.EnableCompression {
		decompressBody(res)
	}

	return false, err
}

// decompressBody rewrites res's body in place according to its
// Content-Encoding header, mirroring what a net/http transport does
// transparently for gzip.
func decompressBody(res *fasthttp.Response) {
	encoding := res.Header.Peek("Content-Encoding")
	if len(encoding) == 0 {
		return
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	var n int
	var err error

	switch encoding[0] {
	case 'b': // br
		n, err = fasthttp.WriteUnbrotli(bb, res.Body())
	case 'd': // deflate
		n, err = fasthttp.WriteInflate(bb, res.Body())
	case 'g': // gzip
		n, err = fasthttp.WriteGunzip(bb, res.Body())
	}

	if err == nil && n > 0 {
		res.SetBody(bb.B)
		res.Header.Del("Content-Encoding")
	}
}

// Close closes every pooled connection.
func (cl *Client) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var lastErr error

	for _, c := range cl.conns {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}

	cl.conns = nil

	return lastErr
}
