package http2

import (
	"github.com/valyala/fasthttp"
)

// Request wraps a fasthttp.Request with the extra bookkeeping an
// HTTP/2 exchange needs: the stream it ends up assigned to.
type Request struct {
	// Req is the underlying fasthttp request. Callers build it exactly
	// as they would for a plain fasthttp.HostClient call; the engine
	// maps its method/URI/headers/body onto HEADERS and DATA frames.
	Req *fasthttp.Request

	// StreamID is filled in once the request has been assigned a stream.
	StreamID uint32
}
