package http2

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

// ClientOpts configures a Client beyond what ConfigureClient infers
// from the fasthttp.HostClient it's attached to.
type ClientOpts struct {
	// OnRTT is stored on the Client, but no connection measures
	// round-trip time, so it is never called.
	OnRTT func(time.Duration)
	// ConnOpts is forwarded to every connection the Client dials.
	ConnOpts ConnOpts
	// MaxConns bounds how many concurrent connections are kept open to
	// the host. Defaults to 1.
	MaxConns int
	// EnableCompression decodes a gzip/deflate/brotli response body
	// transparently before Do returns.
	EnableCompression bool
}

func configureDialer(d *Dialer) {
	if d.TLSConfig == nil {
		d.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		}
	}

	tlsConfig := d.TLSConfig

	emptyServerName := len(tlsConfig.ServerName) == 0
	if emptyServerName {
		host, _, err := net.SplitHostPort(d.Addr)
		if err != nil {
			host = d.Addr
		}

		tlsConfig.ServerName = host
	}

	tlsConfig.NextProtos = append(tlsConfig.NextProtos, H2TLSProto)
}

// ConfigureClient configures the fasthttp.HostClient to run over HTTP/2,
// probing the server's ALPN support by dialing a first connection, which
// is kept as the Client's first pooled connection, before swapping in
// the h2 Transport.
func ConfigureClient(c *fasthttp.HostClient, opts ClientOpts) error {
	emptyServerName := c.TLSConfig != nil && len(c.TLSConfig.ServerName) == 0

	d := &Dialer{
		Addr:      c.Addr,
		TLSConfig: c.TLSConfig,
	}

	probe, err := d.Dial(opts.ConnOpts)
	if err != nil {
		if err == ErrServerSupport && c.TLSConfig != nil {
			for i := range c.TLSConfig.NextProtos {
				if c.TLSConfig.NextProtos[i] == H2TLSProto {
					c.TLSConfig.NextProtos = append(c.TLSConfig.NextProtos[:i], c.TLSConfig.NextProtos[i+1:]...)
					break
				}
			}

			if emptyServerName {
				c.TLSConfig.ServerName = ""
			}
		}

		return err
	}

	c.IsTLS = true
	c.TLSConfig = d.TLSConfig

	cl := createClient(d)
	cl.onRTT = opts.OnRTT
	cl.connOpts = opts.ConnOpts
	cl.EnableCompression = opts.EnableCompression

	if opts.MaxConns > 0 {
		cl.MaxConns = opts.MaxConns
	}

	cl.conns = append(cl.conns, probe)

	c.Transport = cl.Do

	return nil
}
