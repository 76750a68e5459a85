package http2

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/nomadlabsinc/h2o/http2utils"
)

const (
	testStr = "make fasthttp great again"
)

func TestFrameWrite(t *testing.T) {
	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	data := AcquireFrame(FrameData).(*Data)

	fr.SetBody(data)

	n, err := io.WriteString(data, testStr)
	if err != nil {
		t.Fatal(err)
	}
	if nn := len(testStr); n != nn {
		t.Fatalf("unexpected size %d<>%d", n, nn)
	}

	var bf = bytes.NewBuffer(nil)
	var bw = bufio.NewWriter(bf)
	fr.WriteTo(bw)
	bw.Flush()

	b := bf.Bytes()
	if str := string(b[9:]); str != testStr {
		t.Fatalf("mismatch %s<>%s", str, testStr)
	}
}

func TestFrameRead(t *testing.T) {
	var h [9]byte
	bf := bytes.NewBuffer(nil)
	br := bufio.NewReader(bf)

	http2utils.Uint24ToBytes(h[:3], uint32(len(testStr)))
	http2utils.Uint32ToBytes(h[5:], 1) // DATA frames require a non-zero stream id

	n, err := bf.Write(h[:9])
	if err != nil {
		t.Fatal(err)
	}
	if n != 9 {
		t.Fatalf("unexpected written bytes %d<>9", n)
	}

	n, err = io.WriteString(bf, testStr)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(testStr) {
		t.Fatalf("unexpected written bytes %d<>%d", n, len(testStr))
	}

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	nn, err := fr.ReadFrom(br)
	if err != nil {
		t.Fatal(err)
	}
	n = int(nn)
	if n != len(testStr)+9 {
		t.Fatalf("unexpected read bytes %d<>%d", n, len(testStr)+9)
	}

	if fr.Type() != FrameData {
		t.Fatalf("unexpected frame type: %s. Expected Data", fr.Type())
	}

	data := fr.Body().(*Data)

	if str := string(data.Data()); str != testStr {
		t.Fatalf("mismatch %s<>%s", str, testStr)
	}
}

func TestFrameReadUnknownTypeIsSkipped(t *testing.T) {
	var h [9]byte
	bf := bytes.NewBuffer(nil)

	payload := []byte("vendor-extension-payload")
	http2utils.Uint24ToBytes(h[:3], uint32(len(payload)))
	h[3] = 0xfe // a frame type outside the range this implementation knows

	bf.Write(h[:9])
	bf.Write(payload)

	// Something legitimate follows, to prove the reader resumes cleanly
	// after discarding the unknown frame's payload.
	var h2 [9]byte
	http2utils.Uint24ToBytes(h2[:3], uint32(len(testStr)))
	h2[3] = byte(FrameData)
	http2utils.Uint32ToBytes(h2[5:], 1)
	bf.Write(h2[:9])
	io.WriteString(bf, testStr)

	br := bufio.NewReader(bf)

	fr, err := ReadFrameFrom(br)
	if err != nil {
		t.Fatalf("unexpected error reading unknown frame type: %v", err)
	}
	if fr.Type() != FrameType(0xfe) {
		t.Fatalf("unexpected frame type: %v", fr.Type())
	}
	ReleaseFrameHeader(fr)

	fr, err = ReadFrameFrom(br)
	if err != nil {
		t.Fatalf("unexpected error reading frame following the unknown one: %v", err)
	}
	defer ReleaseFrameHeader(fr)

	if fr.Type() != FrameData {
		t.Fatalf("unexpected frame type: %s, want Data", fr.Type())
	}
	if str := string(fr.Body().(*Data).Data()); str != testStr {
		t.Fatalf("mismatch %s<>%s", str, testStr)
	}
}
