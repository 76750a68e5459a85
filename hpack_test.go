package http2

import (
	"testing"
)

func TestHPACKStaticTableLookup(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)

	key, value, ok := hp.at(2)
	if !ok || string(key) != ":method" || string(value) != "GET" {
		t.Fatalf("at(2) = %q %q %v, want :method GET true", key, value, ok)
	}

	idx, nameOnly := hp.find([]byte(":method"), []byte("GET"))
	if idx != 2 || nameOnly {
		t.Fatalf("find(:method, GET) = %d %v, want 2 false", idx, nameOnly)
	}

	idx, nameOnly = hp.find([]byte(":method"), []byte("PATCH"))
	if idx != 2 || !nameOnly {
		t.Fatalf("find(:method, PATCH) = %d %v, want 2 true", idx, nameOnly)
	}
}

func TestHPACKRoundTrip(t *testing.T) {
	enc := AcquireHPACK()
	dec := AcquireHPACK()
	defer ReleaseHPACK(enc)
	defer ReleaseHPACK(dec)

	fields := []struct{ k, v string }{
		{":method", "GET"},
		{":path", "/exchangeInfo"},
		{":authority", "api.binance.com"},
		{"user-agent", "h2o-client"},
		{"x-custom-header", "some-fairly-long-value-to-exercise-huffman"},
	}

	var raw []byte
	for _, f := range fields {
		hf := AcquireHeaderField()
		hf.SetBytes([]byte(f.k), []byte(f.v))
		raw = enc.AppendHeader(raw, hf, true)
		ReleaseHeaderField(hf)
	}

	for _, want := range fields {
		hf := AcquireHeaderField()

		rest, err := dec.Next(hf, raw)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		raw = rest

		if hf.Key() != want.k || hf.Value() != want.v {
			t.Fatalf("decoded %q=%q, want %q=%q", hf.Key(), hf.Value(), want.k, want.v)
		}

		ReleaseHeaderField(hf)
	}

	if len(raw) != 0 {
		t.Fatalf("leftover bytes after decoding: %d", len(raw))
	}
}

func TestHPACKDynamicTableEviction(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)

	hp.SetMaxTableSize(64)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetBytes([]byte("x-first"), []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	hp.addDynamic(hf.KeyBytes(), hf.ValueBytes())

	hf.SetBytes([]byte("x-second"), []byte("b"))
	hp.addDynamic(hf.KeyBytes(), hf.ValueBytes())

	if len(hp.dynamic) != 1 {
		t.Fatalf("dynamic table len = %d, want 1 after eviction", len(hp.dynamic))
	}

	if string(hp.dynamic[0].key) != "x-second" {
		t.Fatalf("remaining entry = %q, want x-second", hp.dynamic[0].key)
	}
}

func TestHPACKIndexedFieldShortcut(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetBytes([]byte(":status"), []byte("200"))
	dst := hp.AppendHeader(nil, hf, false)

	// fully-indexed field is a single byte: 1000 0000 | index(8)
	if len(dst) != 1 || dst[0]&0x80 == 0 {
		t.Fatalf("expected single-byte indexed representation, got % x", dst)
	}
}

func TestPrefixIntCodec(t *testing.T) {
	cases := []uint64{0, 1, 30, 31, 32, 127, 128, 1337, 1 << 20}

	for _, v := range cases {
		dst := appendPrefixInt(nil, 5, 0x20, v)

		got, rest, err := readPrefixInt(dst, 5)
		if err != nil {
			t.Fatalf("readPrefixInt(%d): %v", v, err)
		}

		if got != v {
			t.Fatalf("round trip %d got %d", v, got)
		}

		if len(rest) != 0 {
			t.Fatalf("leftover bytes for %d: %d", v, len(rest))
		}
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"www.example.com",
		"api.binance.com",
		"no-huffman-benefit-" + string(rune(1)) + string(rune(2)),
	}

	for _, s := range inputs {
		dst := appendHuffman(nil, []byte(s))

		got, err := huffmanDecode(nil, dst)
		if err != nil {
			t.Fatalf("huffmanDecode(%q): %v", s, err)
		}

		if string(got) != s {
			t.Fatalf("huffman round trip = %q, want %q", got, s)
		}
	}
}
