package http2

import (
	"sync"
)

// staticTable holds the 61 predefined header fields from RFC 7541
// Appendix A. Indexing is 1-based in the wire format; staticTable[0]
// corresponds to wire index 1.
var staticTable = [61]HeaderField{
	{key: []byte(":authority")},
	{key: []byte(":method"), value: []byte("GET")},
	{key: []byte(":method"), value: []byte("POST")},
	{key: []byte(":path"), value: []byte("/")},
	{key: []byte(":path"), value: []byte("/index.html")},
	{key: []byte(":scheme"), value: []byte("http")},
	{key: []byte(":scheme"), value: []byte("https")},
	{key: []byte(":status"), value: []byte("200")},
	{key: []byte(":status"), value: []byte("204")},
	{key: []byte(":status"), value: []byte("206")},
	{key: []byte(":status"), value: []byte("304")},
	{key: []byte(":status"), value: []byte("400")},
	{key: []byte(":status"), value: []byte("404")},
	{key: []byte(":status"), value: []byte("500")},
	{key: []byte("accept-charset")},
	{key: []byte("accept-encoding"), value: []byte("gzip, deflate")},
	{key: []byte("accept-language")},
	{key: []byte("accept-ranges")},
	{key: []byte("accept")},
	{key: []byte("access-control-allow-origin")},
	{key: []byte("age")},
	{key: []byte("allow")},
	{key: []byte("authorization")},
	{key: []byte("cache-control")},
	{key: []byte("content-disposition")},
	{key: []byte("content-encoding")},
	{key: []byte("content-language")},
	{key: []byte("content-length")},
	{key: []byte("content-location")},
	{key: []byte("content-range")},
	{key: []byte("content-type")},
	{key: []byte("cookie")},
	{key: []byte("date")},
	{key: []byte("etag")},
	{key: []byte("expect")},
	{key: []byte("expires")},
	{key: []byte("from")},
	{key: []byte("host")},
	{key: []byte("if-match")},
	{key: []byte("if-modified-since")},
	{key: []byte("if-none-match")},
	{key: []byte("if-range")},
	{key: []byte("if-unmodified-since")},
	{key: []byte("last-modified")},
	{key: []byte("link")},
	{key: []byte("location")},
	{key: []byte("max-forwards")},
	{key: []byte("proxy-authenticate")},
	{key: []byte("proxy-authorization")},
	{key: []byte("range")},
	{key: []byte("referer")},
	{key: []byte("refresh")},
	{key: []byte("retry-after")},
	{key: []byte("server")},
	{key: []byte("set-cookie")},
	{key: []byte("strict-transport-security")},
	{key: []byte("transfer-encoding")},
	{key: []byte("user-agent")},
	{key: []byte("vary")},
	{key: []byte("via")},
	{key: []byte("www-authenticate")},
}

const staticTableLen = len(staticTable)

// defaultMaxHeaderListSize bounds the decoded header list when
// ConnOpts.MaxHeaderListSize is zero. The peer's
// SETTINGS_MAX_HEADER_LIST_SIZE is not consulted for this bound.
const defaultMaxHeaderListSize = 32 << 10

// defaultMaxHeaderFields bounds the number of fields a single header
// block may decode to, independent of their total size; this is the
// mitigation for the "HPACK bomb" class of attack.
const defaultMaxHeaderFields = 100

// dynamicEntry is one row of the HPACK dynamic table.
type dynamicEntry struct {
	key, value []byte
}

func (e dynamicEntry) size() int {
	return len(e.key) + len(e.value) + 32
}

// HPACK implements the encoder or decoder side of a single HPACK
// compression context, as described in RFC 7541.
//
// A connection keeps two HPACK instances: one for encoding outbound
// headers, one for decoding inbound headers. They must not be shared
// between goroutines without external synchronization.
type HPACK struct {
	dynamic []dynamicEntry // most recently added entry at index 0
	size    int

	maxTableSize    int // SETTINGS_HEADER_TABLE_SIZE we apply locally
	peerMaxTableSize int // largest size update accepted from the peer when decoding

	maxHeaderFields  int
	maxHeaderListLen int

	// DisableCompression turns off Huffman and dynamic-table indexing,
	// emitting every field as a literal without indexing. Useful for
	// debugging and for avoiding CRIME/BREACH-style oracle attacks when
	// headers mix attacker- and secret-controlled values.
	DisableCompression bool

	pendingTableSizeUpdate bool
	nextTableSize          int
}

var hpackPool = sync.Pool{
	New: func() interface{} {
		return &HPACK{
			maxTableSize:     defaultHeaderTableSize,
			peerMaxTableSize: defaultHeaderTableSize,
			maxHeaderFields:  defaultMaxHeaderFields,
			maxHeaderListLen: defaultMaxHeaderListSize,
		}
	},
}

// AcquireHPACK returns a pooled HPACK compression context.
func AcquireHPACK() *HPACK {
	return hpackPool.Get().(*HPACK)
}

// ReleaseHPACK resets hp and returns it to the pool.
func ReleaseHPACK(hp *HPACK) {
	hp.Reset()
	hpackPool.Put(hp)
}

// Reset clears the dynamic table and restores protocol defaults.
func (hp *HPACK) Reset() {
	hp.dynamic = hp.dynamic[:0]
	hp.size = 0
	hp.maxTableSize = defaultHeaderTableSize
	hp.peerMaxTableSize = defaultHeaderTableSize
	hp.maxHeaderFields = defaultMaxHeaderFields
	hp.maxHeaderListLen = defaultMaxHeaderListSize
	hp.DisableCompression = false
	hp.pendingTableSizeUpdate = false
	hp.nextTableSize = 0
}

// SetMaxTableSize sets the maximum size this side allows the dynamic
// table to grow to. Shrinking it evicts entries immediately.
func (hp *HPACK) SetMaxTableSize(size int) {
	hp.maxTableSize = size
	hp.pendingTableSizeUpdate = true
	hp.evict()
}

// SetMaxHeaderListSize bounds the total decoded size of a header list.
func (hp *HPACK) SetMaxHeaderListSize(size int) {
	if size > 0 {
		hp.maxHeaderListLen = size
	}
}

func (hp *HPACK) evict() {
	for hp.size > hp.maxTableSize && len(hp.dynamic) > 0 {
		last := hp.dynamic[len(hp.dynamic)-1]
		hp.size -= last.size()
		hp.dynamic = hp.dynamic[:len(hp.dynamic)-1]
	}
}

func (hp *HPACK) addDynamic(key, value []byte) {
	e := dynamicEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}

	hp.dynamic = append([]dynamicEntry{e}, hp.dynamic...)
	hp.size += e.size()

	hp.evict()
}

func (hp *HPACK) at(index int) (key, value []byte, ok bool) {
	if index < 1 {
		return nil, nil, false
	}

	if index <= staticTableLen {
		f := staticTable[index-1]
		return f.key, f.value, true
	}

	di := index - staticTableLen - 1
	if di < 0 || di >= len(hp.dynamic) {
		return nil, nil, false
	}

	e := hp.dynamic[di]

	return e.key, e.value, true
}

// find looks for an exact key/value match, falling back to a key-only
// match. Returns the wire index (1-based) and whether the value also
// matched.
func (hp *HPACK) find(key, value []byte) (idx int, nameOnly bool) {
	for i := range staticTable {
		if string(staticTable[i].key) == string(key) {
			if string(staticTable[i].value) == string(value) {
				return i + 1, false
			}

			if idx == 0 {
				idx = i + 1
				nameOnly = true
			}
		}
	}

	for i, e := range hp.dynamic {
		if string(e.key) == string(key) {
			wireIdx := staticTableLen + i + 1

			if string(e.value) == string(value) {
				return wireIdx, false
			}

			if idx == 0 {
				idx = wireIdx
				nameOnly = true
			}
		}
	}

	return idx, nameOnly
}

// AppendHeader encodes `hf` and appends the wire representation to dst,
// following the encoder's configured compression settings. If `store`
// is true and hf isn't marked sensible, the field is added to the
// encoder's dynamic table so later identical fields can be indexed.
func (hp *HPACK) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	if hp.pendingTableSizeUpdate {
		dst = appendPrefixInt(dst, 5, 0x20, uint64(hp.maxTableSize))
		hp.pendingTableSizeUpdate = false
	}

	key, value := hf.KeyBytes(), hf.ValueBytes()

	idx, nameOnly := hp.find(key, value)
	if hp.DisableCompression {
		idx, store = 0, false
	}

	if idx > 0 && !nameOnly {
		return appendPrefixInt(dst, 7, 0x80, uint64(idx))
	}

	var prefixBits byte
	var prefixLen uint
	switch {
	case hf.IsSensible():
		prefixBits, prefixLen = 0x10, 4
		store = false
	case store:
		prefixBits, prefixLen = 0x40, 6
	default:
		prefixBits, prefixLen = 0x0, 4
	}

	dst = appendPrefixInt(dst, prefixLen, prefixBits, uint64(idx))

	if idx == 0 {
		dst = hp.appendString(dst, key)
	}

	dst = hp.appendString(dst, value)

	if store {
		hp.addDynamic(key, value)
	}

	return dst
}

// AppendHeaderField encodes hf onto h's raw header block, using hp as
// the connection's outbound compression context.
func (hp *HPACK) AppendHeaderField(h *Headers, hf *HeaderField, store bool) {
	h.rawHeaders = hp.AppendHeader(h.rawHeaders, hf, store)
}

func (hp *HPACK) appendString(dst, s []byte) []byte {
	if hp.DisableCompression {
		dst = appendPrefixInt(dst, 7, 0x0, uint64(len(s)))
		return append(dst, s...)
	}

	hlen := huffmanEncodedLen(s)
	if hlen < len(s) {
		dst = appendPrefixInt(dst, 7, 0x80, uint64(hlen))
		return appendHuffman(dst, s)
	}

	dst = appendPrefixInt(dst, 7, 0x0, uint64(len(s)))
	return append(dst, s...)
}

// Next decodes a single header field representation from the front of
// `src`, stores it in `hf`, and returns the unconsumed remainder.
func (hp *HPACK) Next(hf *HeaderField, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return src, ErrMissingBytes
	}

	b := src[0]

	switch {
	case b&0x80 != 0: // indexed header field
		idx, rest, err := readPrefixInt(src, 7)
		if err != nil {
			return src, err
		}

		key, value, ok := hp.at(int(idx))
		if !ok {
			return src, ErrInvalidIndex
		}

		hf.SetKeyBytes(key)
		hf.SetValueBytes(value)

		return rest, nil

	case b&0xc0 == 0x40: // literal with incremental indexing
		return hp.readLiteral(hf, src, 6, true)

	case b&0xf0 == 0x0: // literal without indexing
		return hp.readLiteral(hf, src, 4, false)

	case b&0xf0 == 0x10: // literal never indexed
		rest, err := hp.readLiteralInto(hf, src, 4, false)
		hf.sensible = true
		return rest, err

	case b&0xe0 == 0x20: // dynamic table size update
		size, rest, err := readPrefixInt(src, 5)
		if err != nil {
			return src, err
		}

		if int(size) > hp.peerMaxTableSize {
			return src, ErrInvalidDynamicTableSize
		}

		hp.SetMaxTableSize(int(size))

		return hp.Next(hf, rest)
	}

	return src, ErrInvalidIndex
}

func (hp *HPACK) readLiteral(hf *HeaderField, src []byte, prefixLen uint, store bool) ([]byte, error) {
	rest, err := hp.readLiteralInto(hf, src, prefixLen, store)
	return rest, err
}

func (hp *HPACK) readLiteralInto(hf *HeaderField, src []byte, prefixLen uint, store bool) ([]byte, error) {
	idx, rest, err := readPrefixInt(src, prefixLen)
	if err != nil {
		return src, err
	}

	var key []byte

	if idx == 0 {
		key, rest, err = hp.readString(rest)
		if err != nil {
			return src, err
		}
	} else {
		k, _, ok := hp.at(int(idx))
		if !ok {
			return src, ErrInvalidIndex
		}
		key = k
	}

	value, rest, err := hp.readString(rest)
	if err != nil {
		return src, err
	}

	hf.SetKeyBytes(key)
	hf.SetValueBytes(value)

	if store {
		hp.addDynamic(key, value)
	}

	return rest, nil
}

func (hp *HPACK) readString(src []byte) (value, rest []byte, err error) {
	if len(src) == 0 {
		return nil, src, ErrMissingBytes
	}

	huff := src[0]&0x80 != 0

	length, rest, err := readPrefixInt(src, 7)
	if err != nil {
		return nil, src, err
	}

	if uint64(len(rest)) < length {
		return nil, src, ErrMissingBytes
	}

	raw := rest[:length]
	rest = rest[length:]

	if huff {
		value, err = huffmanDecode(nil, raw)
		if err != nil {
			return nil, src, err
		}
	} else {
		value = append([]byte(nil), raw...)
	}

	return value, rest, nil
}

// appendPrefixInt appends n using HPACK's N-bit prefix integer
// encoding (RFC 7541 section 5.1), ORing the high bits of the first
// byte with prefixBits.
func appendPrefixInt(dst []byte, n uint, prefixBits byte, v uint64) []byte {
	max := uint64(1<<n) - 1

	if v < max {
		return append(dst, prefixBits|byte(v))
	}

	dst = append(dst, prefixBits|byte(max))
	v -= max

	for v >= 128 {
		dst = append(dst, byte(v%128+128))
		v /= 128
	}

	return append(dst, byte(v))
}

func readPrefixInt(src []byte, n uint) (uint64, []byte, error) {
	if len(src) == 0 {
		return 0, src, ErrMissingBytes
	}

	max := uint64(1<<n) - 1
	v := uint64(src[0]) & max
	rest := src[1:]

	if v < max {
		return v, rest, nil
	}

	var m uint
	for {
		if len(rest) == 0 {
			return 0, src, ErrMissingBytes
		}

		b := rest[0]
		rest = rest[1:]

		v += uint64(b&0x7f) << m
		m += 7

		if b&0x80 == 0 {
			break
		}
	}

	return v, rest, nil
}
