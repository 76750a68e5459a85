package http2

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestDecompressBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte("hello, compressed world"))
	_ = gw.Close()

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	res.Header.Set("Content-Encoding", "gzip")
	res.SetBody(buf.Bytes())

	decompressBody(res)

	if string(res.Body()) != "hello, compressed world" {
		t.Fatalf("body = %q, want %q", res.Body(), "hello, compressed world")
	}

	if len(res.Header.Peek("Content-Encoding")) != 0 {
		t.Fatal("expected Content-Encoding header to be removed after decompression")
	}
}

func TestDecompressBodyNoEncodingIsNoop(t *testing.T) {
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	res.SetBody([]byte("plain"))

	decompressBody(res)

	if string(res.Body()) != "plain" {
		t.Fatalf("body changed for an uncompressed response: %q", res.Body())
	}
}

func TestClientConnReusesUnderCapacity(t *testing.T) {
	cl := createClient(&Dialer{Addr: "unused:443"})

	c := &Conn{}
	// A zero-value Conn's remote Settings report MaxConcurrentStreams()==0,
	// which CanOpenStream treats as "no limit".
	cl.conns = append(cl.conns, c)

	got, err := cl.conn()
	if err != nil {
		t.Fatalf("conn(): %v", err)
	}

	if got != c {
		t.Fatal("expected the pooled connection to be reused")
	}
}
