package http2

// Ctx is the one-shot envelope a caller hands to Conn.Write: a request
// to send, the response it should be decoded into, and the channel the
// caller blocks on for the terminal error (nil on success).
//
// A Ctx must not be reused concurrently; AcquireCtx allocates a fresh
// Ctx and Err channel on every call.
type Ctx struct {
	Request  *Request
	Response *Response

	// Err receives exactly one value (nil for success) when the
	// exchange completes. It is closed only when the request could not
	// be written.
	Err chan error
}

// AcquireCtx builds a Ctx wrapping req/res, ready to hand to Conn.Write.
func AcquireCtx(req *Request, res *Response) *Ctx {
	return &Ctx{
		Request:  req,
		Response: res,
		Err:      make(chan error, 1),
	}
}
