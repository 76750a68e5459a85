package http2

import (
	"github.com/valyala/fasthttp"
)

// Response wraps a fasthttp.Response, plus a Trailer slice for trailing
// header fields (RFC 7540 section 8.1.3).
type Response struct {
	// Res is the underlying fasthttp response, populated as HEADERS and
	// DATA frames for the stream are decoded.
	Res *fasthttp.Response

	// Trailer is not filled by this package: fields of a trailing
	// HEADERS frame are added to Res's headers like any other field.
	Trailer []*HeaderField
}

// Reset clears res for reuse.
func (res *Response) Reset() {
	res.Res.Reset()
	res.Trailer = res.Trailer[:0]
}
